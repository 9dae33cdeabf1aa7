// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidAdminKey = errors.New("invalid admin key")

// AnonymousIDPrefix marks participant ids derived from a session token.
const AnonymousIDPrefix = "anon-"

// NewID returns a random UUID string for a new entity.
func NewID() string {
	return uuid.NewString()
}

// AnonymousID derives the canonical participant id for a session token.
// The derivation is a pure function of the token, so repeated calls
// within one session always land on the same participant row.
func AnonymousID(sessionToken string) string {
	return AnonymousIDPrefix + sessionToken
}

// IsAnonymousID reports whether a participant id was derived from a
// session token rather than issued for a registered participant.
func IsAnonymousID(participantID string) bool {
	return strings.HasPrefix(participantID, AnonymousIDPrefix)
}

// GenerateAdminKey creates an HMAC-based admin key for an experiment.
// This is deterministic and verifiable.
func GenerateAdminKey(experimentID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(experimentID))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateAdminKey checks if the provided admin key is valid for the experiment
func ValidateAdminKey(experimentID, adminKey, salt string) error {
	expected := GenerateAdminKey(experimentID, salt)
	if !hmac.Equal([]byte(adminKey), []byte(expected)) {
		return ErrInvalidAdminKey
	}
	return nil
}

// GenerateCompletionCode creates the code a participant hands back to the
// recruiting platform after finishing their task set. Deterministic per
// participant so re-issuing it is stable.
func GenerateCompletionCode(participantID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte("completion:" + participantID))
	sum := h.Sum(nil)

	// Take first 8 bytes for a code short enough to paste
	return "WE-" + base62Encode(sum[:8])
}

// base62Encode converts bytes to base62 (0-9, a-z, A-Z)
// This creates short codes without special characters
func base62Encode(data []byte) string {
	const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// Convert bytes to a big integer
	var num uint64
	for i := 0; i < len(data) && i < 8; i++ {
		num = num<<8 | uint64(data[i])
	}

	if num == 0 {
		return "0"
	}

	// Convert to base62
	result := make([]byte, 0, 11) // max length for uint64
	for num > 0 {
		result = append(result, base62Chars[num%62])
		num /= 62
	}

	// Reverse the string
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return string(result)
}
