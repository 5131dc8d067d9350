// Package stub provides an in-memory operator registry that speaks the same
// HTTP contract as the real one. Tokens are HS256 JWTs with an expiry, and
// failures can be injected per request or per key.
package stub

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aviregistry/operator-ingest/internal/registry"
)

// DefaultTokenTTL is the lifetime of issued tokens
const DefaultTokenTTL = time.Hour

// maxRequestBody bounds request bodies
const maxRequestBody = 10 << 20

// Server is an in-memory registry. It is safe for concurrent use.
type Server struct {
	mu sync.Mutex

	users    map[string]string
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time

	// epoch invalidates every token issued under an earlier value
	epoch int

	records      map[string]registry.Record
	rejectedKeys map[string]string
	failRequests map[int]int

	logins   int
	requests int
	batches  [][]string

	middlewares []func(http.Handler) http.Handler
}

// Option configures a Server
type Option func(*Server)

// WithUser registers an account
func WithUser(email, password string) Option {
	return func(s *Server) {
		s.users[email] = password
	}
}

// WithTokenTTL sets the lifetime of issued tokens
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = ttl
	}
}

// WithClock replaces the server's clock
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithMiddlewares adds HTTP middlewares ahead of the routes
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, mw...)
	}
}

// New creates an empty registry
func New(opts ...Option) *Server {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	s := &Server{
		users:        make(map[string]string),
		secret:       secret,
		tokenTTL:     DefaultTokenTTL,
		now:          time.Now,
		records:      make(map[string]registry.Record),
		rejectedKeys: make(map[string]string),
		failRequests: make(map[int]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the registry's HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)
	r.Use(s.middlewares...)
	r.Post(registry.LoginPath, s.handleLogin)
	r.Post(registry.BulkUpsertPath, s.handleBulkUpsert)
	return r
}

// LoggingMiddleware logs every request at debug level
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// FailRequest makes the n-th bulk upsert request (1-based, counting every
// request) fail with status
func (s *Server) FailRequest(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRequests[n] = status
}

// RejectKey makes every upsert of key fail with reason
func (s *Server) RejectKey(key, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectedKeys[key] = reason
}

// Revoke invalidates every token issued so far
func (s *Server) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
}

// LoginCount returns the number of successful logins
func (s *Server) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Batches returns the keys of every authorized bulk upsert, in arrival order
func (s *Server) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	for i, batch := range s.batches {
		out[i] = append([]string(nil), batch...)
	}
	return out
}

// Records returns a copy of the stored records keyed by certificate number
func (s *Server) Records() map[string]registry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.records)
}

type tokenClaims struct {
	Epoch int `json:"epoch"`
	jwt.RegisteredClaims
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds registry.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&creds); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	password, ok := s.users[creds.Email]
	if !ok || password != creds.Password {
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Epoch: s.epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   creds.Email,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		writeError(w, "failed to sign token", http.StatusInternalServerError)
		return
	}
	s.logins++

	writeJSON(w, registry.LoginResponse{Token: signed, ExpiresAt: expiresAt.UTC()}, http.StatusOK)
}

func (s *Server) handleBulkUpsert(w http.ResponseWriter, r *http.Request) {
	var req registry.BulkUpsertRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	if status, ok := s.failRequests[s.requests]; ok {
		writeError(w, fmt.Sprintf("injected failure for request %d", s.requests), status)
		return
	}

	if err := s.authorize(r); err != nil {
		slog.Debug("Rejected bearer token", "error", err)
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	resp := registry.UpsertResponse{Succeeded: []string{}, Failed: []registry.KeyFailure{}}
	keys := make([]string, 0, len(req.Records))
	for _, record := range req.Records {
		keys = append(keys, record.Key)
		if record.Key == "" {
			resp.Failed = append(resp.Failed, registry.KeyFailure{Key: record.Key, Reason: "key is required"})
			continue
		}
		if reason, ok := s.rejectedKeys[record.Key]; ok {
			resp.Failed = append(resp.Failed, registry.KeyFailure{Key: record.Key, Reason: reason})
			continue
		}
		s.records[record.Key] = record
		resp.Succeeded = append(resp.Succeeded, record.Key)
	}
	s.batches = append(s.batches, keys)

	writeJSON(w, resp, http.StatusOK)
}

// authorize checks the bearer token; the caller holds s.mu
func (s *Server) authorize(r *http.Request) error {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return errors.New("missing bearer token")
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return err
	}
	if claims.Epoch != s.epoch {
		return errors.New("token was revoked")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
