package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWith(header string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return r
}

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator("admin-key", []TokenConfig{
		{Token: "writer", Scopes: []string{"jobs:rw"}},
		{Token: "watcher", Scopes: []string{" events:ro ", ""}},
	})
	require.True(t, a.Enabled())

	p, err := a.Authenticate(requestWith("Bearer admin-key"))
	require.NoError(t, err)
	assert.True(t, p.Allows(ScopeJobsRW))
	assert.True(t, p.Allows(ScopeLeader))

	p, err = a.Authenticate(requestWith("Bearer writer"))
	require.NoError(t, err)
	assert.True(t, p.Allows(ScopeJobsRW))
	assert.True(t, p.Allows(ScopeJobsRead), "rw implies ro")
	assert.False(t, p.Allows(ScopeEvents))

	p, err = a.Authenticate(requestWith("Bearer   watcher  "))
	require.NoError(t, err)
	assert.True(t, p.Allows(ScopeEvents))
	assert.False(t, p.Allows(ScopeJobsRead))
	assert.True(t, p.Allows())
}

func TestAuthenticateRejects(t *testing.T) {
	a := NewAuthenticator("admin-key", nil)

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"missing header", "", ErrMissingToken},
		{"empty bearer", "Bearer   ", ErrMissingToken},
		{"wrong key", "Bearer nope", ErrInvalidToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Authenticate(requestWith(tc.header))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := a.Authenticate(requestWith("Basic abc"))
	assert.Error(t, err)
}

func TestAuthenticatorDisabled(t *testing.T) {
	assert.False(t, NewAuthenticator("", nil).Enabled())
	var a *Authenticator
	assert.False(t, a.Enabled())
}
