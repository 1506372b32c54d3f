// Package pkce generates RFC 7636 proof-key pairs for the OAuth2
// authorization code flow.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierBytes is the number of random bytes backing the code verifier.
// 32 bytes encodes to 43 URL-safe characters, the RFC 7636 minimum.
const verifierBytes = 32

// Codes holds a code verifier and its derived S256 challenge.
type Codes struct {
	Verifier  string
	Challenge string
}

// Generate creates a cryptographically random code verifier and its
// SHA-256 code challenge. An error from the system RNG is fatal to the
// auth flow; callers must not proceed without a verifier.
func Generate() (Codes, error) {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		return Codes{}, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(b)
	return Codes{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
	}, nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
