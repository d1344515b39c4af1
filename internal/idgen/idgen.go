// Package idgen mints and decodes the time-ordered UUIDs used as entity
// identifiers throughout the store and wire protocol.
package idgen

import (
	"strings"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/syncerr"
)

// New mints a fresh UUIDv7, time-ordered by the minting device's clock so
// ids from one device sort in creation order.
func New() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system RNG is broken; fall back to
		// a random v4 rather than panic in a store primitive.
		return uuid.New()
	}
	return id
}

// Hex renders id as a 32-character lowercase hex string with no hyphens,
// the wire and storage representation used everywhere in this module.
func Hex(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// ParseHex validates and decodes a hex-or-hyphenated UUID string. field
// names the input in validation errors.
func ParseHex(value, field string) (uuid.UUID, error) {
	cleaned := strings.ReplaceAll(value, "-", "")
	id, err := uuid.Parse(cleaned)
	if err != nil {
		return uuid.Nil, syncerr.Validationf(field, "invalid UUID format: %v", err)
	}
	return id, nil
}

// BytesToHex converts a 16-byte BLOB (as read back from the store) to its
// hex string form.
func BytesToHex(b []byte, field string) (string, error) {
	if len(b) != 16 {
		return "", syncerr.Validationf(field, "must be 16 bytes, got %d", len(b))
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", syncerr.Validationf(field, "invalid UUID bytes: %v", err)
	}
	return Hex(id), nil
}
