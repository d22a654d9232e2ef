// Package uuid provides ID generation helpers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, which sort by creation time in logs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string, falling back to a random UUIDv4 when the
// time-ordered variant cannot be produced.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
