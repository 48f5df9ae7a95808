// Package uuid provides account ID generation and parsing helpers.
package uuid

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNilID is returned when an account ID parses to the nil UUID.
var ErrNilID = errors.New("account id must not be the nil uuid")

// Generator creates account IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (g Generator) NewID() (string, error) {
	id, err := g.NewAccountID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewAccountID returns a UUID7, which sorts by creation time.
func (Generator) NewAccountID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Parse decodes an account ID, rejecting the nil UUID.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse account id %q: %w", s, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, ErrNilID
	}
	return id, nil
}
