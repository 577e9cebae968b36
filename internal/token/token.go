// Package token generates the opaque bearer tokens used for sessions,
// room invites, and stream keys.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// 24 random bytes encode to a 32-character URL-safe token.
const tokenBytes = 24

// New returns a cryptographically random opaque token.
func New() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
