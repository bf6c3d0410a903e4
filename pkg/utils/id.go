package utils

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// RandomHex returns the first n lowercase hex characters of a fresh
// CSPRNG-backed version-4 uuid; n must be at most 32. The first 12
// characters are fully random; character 12 is always the version digit '4'
// and character 16 carries the uuid variant bits.
func RandomHex(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}

// NewSessionID mints a fresh user session token (sess_ prefix, 24 hex chars).
func NewSessionID() string {
	return fmt.Sprintf("sess_%s", RandomHex(24))
}

// NewConversationID mints a fresh assistant conversation handle.
func NewConversationID() string {
	return fmt.Sprintf("conv_%s", RandomHex(24))
}
