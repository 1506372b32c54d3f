// Package state encodes the OAuth state parameter as a self-contained
// token. The token carries the PKCE verifier and optional caller context
// through the provider redirect, so the callback handler needs no
// server-side session lookup. Because the verifier comes from a secure
// RNG the token doubles as a CSRF guard.
package state

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedState is returned when a state token fails to decode.
// A malformed token usually means a stale or tampered redirect.
var ErrMalformedState = errors.New("malformed state token")

// Payload is the content round-tripped through the provider.
type Payload struct {
	Verifier  string `json:"verifier"`
	ProjectID string `json:"project_id,omitempty"`
}

// Encode serializes a payload into a URL-safe base64 token.
func Encode(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a state token. It tolerates the standard base64
// alphabet and any padding variant, since some providers re-encode
// query parameters on the way back.
func Decode(token string) (Payload, error) {
	normalized := strings.NewReplacer("+", "-", "/", "_").Replace(token)
	normalized = strings.TrimRight(normalized, "=")

	data, err := base64.RawURLEncoding.DecodeString(normalized)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if p.Verifier == "" {
		return Payload{}, fmt.Errorf("%w: missing verifier", ErrMalformedState)
	}
	return p, nil
}
