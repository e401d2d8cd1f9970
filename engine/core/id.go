package core

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the canonical 128-bit identifier for every task in the system. The
// wire form is the standard UUID string representation.
type ID string

// NewID generates a new random ID.
func NewID() (ID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID generates a new random ID and panics if generation fails.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates a string and returns it as an ID in canonical form.
func ParseID(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return ID(parsed.String()), nil
}

func (i ID) String() string {
	return string(i)
}

// IsZero reports whether the ID is unset.
func (i ID) IsZero() bool {
	return i == ""
}
