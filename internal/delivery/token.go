package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aviregistry/operator-ingest/internal/ingest"
	"github.com/aviregistry/operator-ingest/internal/registry"
	"github.com/aviregistry/operator-ingest/internal/retry"
)

// RefreshMargin is how long before expiry a token is replaced
const RefreshMargin = 5 * time.Minute

// Token is a bearer token and its expiry. It lives in memory only.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource caches the registry token and refreshes it before it expires.
// Concurrent callers that find the token stale share one login.
type TokenSource struct {
	client registry.Client
	creds  registry.Credentials
	policy retry.Policy
	now    func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	token     *Token
	refreshAt time.Time
}

// TokenSourceOption configures a TokenSource
type TokenSourceOption func(*TokenSource)

// WithClock replaces the clock used to judge expiry
func WithClock(now func() time.Time) TokenSourceOption {
	return func(s *TokenSource) {
		s.now = now
	}
}

// WithLoginPolicy sets the retry policy for logins
func WithLoginPolicy(p retry.Policy) TokenSourceOption {
	return func(s *TokenSource) {
		s.policy = p
	}
}

// NewTokenSource creates a token source that logs in with creds
func NewTokenSource(client registry.Client, creds registry.Credentials, opts ...TokenSourceOption) *TokenSource {
	s := &TokenSource{
		client: client,
		creds:  creds,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy.Source = "registry"
	return s
}

// Token returns a token that is valid for at least the refresh margin, or
// for half its lifetime when the lifetime is shorter than twice the margin.
// Failures are returned as *ingest.AuthenticationError.
func (s *TokenSource) Token(ctx context.Context) (Token, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		// another caller may have refreshed while this one waited
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		return s.login(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the cached token if it is still stale. A token that was
// already replaced by a concurrent refresh is kept.
func (s *TokenSource) Invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil && s.token.Value == stale {
		s.token = nil
	}
}

func (s *TokenSource) cached() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || !s.now().Before(s.refreshAt) {
		return Token{}, false
	}
	return *s.token, true
}

func (s *TokenSource) login(ctx context.Context) (Token, error) {
	issued := s.now()
	resp, err := retry.Execute(ctx, s.policy, func(ctx context.Context) (*registry.LoginResponse, error) {
		return s.client.Login(ctx, s.creds)
	})
	if err != nil {
		return Token{}, &ingest.AuthenticationError{Err: err}
	}
	if !resp.ExpiresAt.After(issued) {
		return Token{}, &ingest.AuthenticationError{
			Err: fmt.Errorf("registry issued a token that expires at %s", resp.ExpiresAt.Format(time.RFC3339)),
		}
	}

	tok := Token{Value: resp.Token, ExpiresAt: resp.ExpiresAt}

	s.mu.Lock()
	s.token = &tok
	s.refreshAt = refreshTime(issued, resp.ExpiresAt)
	s.mu.Unlock()

	slog.DebugContext(ctx, "Obtained registry token", "expires_at", resp.ExpiresAt)
	return tok, nil
}

// refreshTime is RefreshMargin before expiry, or the lifetime midpoint for
// tokens that live less than twice the margin
func refreshTime(issued, expiresAt time.Time) time.Time {
	lifetime := expiresAt.Sub(issued)
	if lifetime < 2*RefreshMargin {
		return issued.Add(lifetime / 2)
	}
	return expiresAt.Add(-RefreshMargin)
}
