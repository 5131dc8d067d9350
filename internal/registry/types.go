package registry

import "time"

const (
	// LoginPath is the login endpoint, relative to the registry base URL
	LoginPath = "/auth/login"

	// BulkUpsertPath is the bulk upsert endpoint, relative to the registry base URL
	BulkUpsertPath = "/operators/bulk-upsert"
)

// Credentials identify the ingestion account
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries a bearer token and its expiry
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Record is one operator as sent to the registry
type Record struct {
	Key    string         `json:"key"`
	Source string         `json:"source"`
	Data   map[string]any `json:"data"`
}

// BulkUpsertRequest is the bulk upsert request body
type BulkUpsertRequest struct {
	Records []Record `json:"records"`
}

// KeyFailure is a record the registry refused
type KeyFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// UpsertResponse reports the outcome of each key in a bulk upsert
type UpsertResponse struct {
	Succeeded []string     `json:"succeeded"`
	Failed    []KeyFailure `json:"failed"`
}
