// Package registry is the typed client for the downstream operator registry.
//
// The registry exposes two endpoints:
//
//	POST /auth/login             {email, password} -> {token, expiresAt}
//	POST /operators/bulk-upsert  {records: [...]}  -> {succeeded: [key...], failed: [{key, reason}]}
//
// Bulk upserts carry "Authorization: Bearer <token>". A 401 response is
// reported as ErrUnauthorized so callers can refresh the token and retry.
//
// The stub subpackage provides an in-memory implementation of the same
// contract for tests and local runs.
package registry
