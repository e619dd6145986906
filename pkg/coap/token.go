package coap

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenLength is the token size used for all requests.
const TokenLength = 4

// Token is a request token.
type Token [TokenLength]byte

// String returns the token in hex.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// IsZero reports whether the token was never generated.
func (t Token) IsZero() bool {
	return t == Token{}
}

// Matches reports whether b is exactly this token.
func (t Token) Matches(b []byte) bool {
	return len(b) == TokenLength && Token(b) == t
}

// TokenSource generates random tokens.
type TokenSource struct {
	r io.Reader
}

// NewTokenSource reads randomness from r, or crypto/rand when r is nil.
func NewTokenSource(r io.Reader) *TokenSource {
	if r == nil {
		r = rand.Reader
	}
	return &TokenSource{r: r}
}

// New returns a fresh random token.
func (s *TokenSource) New() (Token, error) {
	var t Token
	if _, err := io.ReadFull(s.r, t[:]); err != nil {
		return Token{}, fmt.Errorf("coap: generate token: %w", err)
	}
	return t, nil
}
