// Package id provides UUIDv7 generation for ledger rows.
// UUIDv7 is time-ordered, so movement rows created in one batch sort by creation.
package id

import (
	"bytes"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used for every ledger key.
type ID = uuid.UUID

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil returns zero-value UUID.
func Nil() ID {
	return uuid.Nil
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}

// Compare orders two IDs bytewise. Used to build a stable lock acquisition order.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}
