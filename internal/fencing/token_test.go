package fencing

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinterIsStrictlyIncreasing(t *testing.T) {
	m := NewMinter()
	frozen := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return frozen }

	prev := m.Next()
	for range 1000 {
		next := m.Next()
		require.True(t, prev.Before(next), "%s not before %s", prev, next)
		require.False(t, prev.Equal(next))
		prev = next
	}
}

func TestMinterSurvivesClockStepBack(t *testing.T) {
	m := NewMinter()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	first := m.Next()
	now = now.Add(-time.Hour)
	second := m.Next()
	assert.True(t, first.Before(second))
}

func TestParseRoundTrip(t *testing.T) {
	tok := NewMinter().Next()

	parsed, err := Parse(tok.String())
	require.NoError(t, err)
	assert.True(t, tok.Equal(parsed))

	b, err := json.Marshal(struct {
		Token Token `json:"token"`
	}{tok})
	require.NoError(t, err)
	assert.Contains(t, string(b), tok.String())
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "0-" + NewMinter().Next().nonce.String(), "12-not-a-uuid"} {
		_, err := Parse(in)
		assert.True(t, errors.Is(err, ErrMalformedToken), "input %q", in)
	}
}

func TestZeroToken(t *testing.T) {
	var zero Token
	assert.True(t, zero.IsZero())
	assert.Equal(t, "", zero.String())
	assert.False(t, NewMinter().Next().IsZero())
}
