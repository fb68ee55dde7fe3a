package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// StateLength is the number of random bytes in a login state token
const StateLength = 32

// GenerateState creates an unguessable OAuth2 state value
// Format: base64url(32 random bytes), no padding
func GenerateState() (string, error) {
	randomBytes := make([]byte, StateLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// ValidateState compares the state echoed by the provider with the one
// issued, in constant time
func ValidateState(issued, returned string) error {
	if issued == "" || returned == "" {
		return fmt.Errorf("%w: missing state", ErrInvalidState)
	}
	if _, err := base64.RawURLEncoding.DecodeString(returned); err != nil {
		return fmt.Errorf("%w: invalid state encoding", ErrInvalidState)
	}
	if subtle.ConstantTimeCompare([]byte(issued), []byte(returned)) != 1 {
		return ErrInvalidState
	}
	return nil
}
