package slug

import (
	"crypto/rand"
	"fmt"
)

// External identifiers are 5-character alphanumerics over the 62-symbol
// alphabet, generated server-side from crypto/rand. ~916M combinations;
// uniqueness is enforced by the database and callers retry on collision.
const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	Length   = 5
)

// New returns a fresh random slug.
func New() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("slug entropy: %w", err)
	}
	out := make([]byte, Length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// Valid reports whether s is a well-formed slug.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
