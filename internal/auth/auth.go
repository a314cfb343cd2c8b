// Package auth authenticates bearer tokens and checks their scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API. A ":rw" scope implies its ":ro" twin.
const (
	ScopeAll      = "*"
	ScopeJobsRead = "jobs:ro"
	ScopeJobsRW   = "jobs:rw"
	ScopeLeader   = "leader:ro"
	ScopeEvents   = "events:ro"
)

var (
	ErrMissingToken = errors.New("missing API key")
	ErrInvalidToken = errors.New("invalid API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Scopes map[string]struct{}
}

// Allows reports whether p holds any of the given scopes.
func (p Principal) Allows(scopes ...string) bool {
	if len(scopes) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range scopes {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator matches presented bearer tokens against the configured
// admin key and scoped tokens.
type Authenticator struct {
	adminKey string
	tokens   []TokenConfig
}

func NewAuthenticator(adminKey string, tokens []TokenConfig) *Authenticator {
	return &Authenticator{adminKey: adminKey, tokens: tokens}
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.adminKey != "" || len(a.tokens) > 0)
}

// Authenticate resolves the request's bearer token to a Principal.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	presented, err := bearerToken(r)
	if err != nil {
		return Principal{}, err
	}
	if constantTimeEqual(presented, a.adminKey) {
		return Principal{Scopes: map[string]struct{}{ScopeAll: {}}}, nil
	}
	for _, t := range a.tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{Scopes: normalizeScopes(t.Scopes)}, nil
		}
	}
	return Principal{}, ErrInvalidToken
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		if ro, ok := strings.CutSuffix(s, ":rw"); ok {
			out[ro+":ro"] = struct{}{}
		}
	}
	return out
}
