// Package fencing mints the tokens that tag one leadership epoch.
//
// A Token orders by its sequence number. Sequence numbers are seeded from the
// wall clock and bumped past the last issued value, so tokens stay ordered by
// issuance inside one process and keep growing across process restarts. The
// random nonce keeps tokens minted by different nodes from ever comparing
// equal.
package fencing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedToken is returned by Parse for strings not produced by String.
var ErrMalformedToken = errors.New("malformed fencing token")

// Token is an opaque fencing token. The zero value means "no token".
type Token struct {
	seq   uint64
	nonce uuid.UUID
}

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool { return t.seq == 0 && t.nonce == uuid.Nil }

// Seq exposes the ordering component for logs and metrics.
func (t Token) Seq() uint64 { return t.seq }

// Equal reports whether both tokens were produced by the same mint call.
func (t Token) Equal(o Token) bool { return t.seq == o.seq && t.nonce == o.nonce }

// Before reports whether t was issued before o.
func (t Token) Before(o Token) bool { return t.seq < o.seq }

// String renders the wire form "<seq>-<uuid>".
func (t Token) String() string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatUint(t.seq, 10) + "-" + t.nonce.String()
}

// Parse reads the wire form produced by String.
func Parse(s string) (Token, error) {
	seqPart, noncePart, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Token{}, fmt.Errorf("%w: %q", ErrMalformedToken, s)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil || seq == 0 {
		return Token{}, fmt.Errorf("%w: bad sequence in %q", ErrMalformedToken, s)
	}
	nonce, err := uuid.Parse(noncePart)
	if err != nil {
		return Token{}, fmt.Errorf("%w: bad nonce in %q", ErrMalformedToken, s)
	}
	return Token{seq: seq, nonce: nonce}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Token) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Token) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = Token{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Minter issues strictly increasing tokens. Safe for concurrent use.
type Minter struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// NewMinter returns a Minter seeded from the wall clock.
func NewMinter() *Minter {
	return &Minter{now: time.Now}
}

// Next returns a token ordered after every token previously returned.
func (m *Minter) Next() Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := uint64(m.now().UnixNano())
	if seq <= m.last {
		seq = m.last + 1
	}
	m.last = seq
	return Token{seq: seq, nonce: uuid.New()}
}
