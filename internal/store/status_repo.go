// Package store declares interfaces for persisting connection status history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("status record not found")

// Transition is one recorded status change of an account connection.
type Transition struct {
	// AccountID identifies the connection.
	AccountID uuid.UUID
	// Status is the status entered.
	Status string
	// Previous is the status left, empty when unknown.
	Previous string
	// At is when the change happened.
	At time.Time
	// Note optionally stores context such as a failure reason.
	Note *string
}

// StatusRepository persists connection status transitions.
type StatusRepository interface {
	// AppendTransition records one status change.
	AppendTransition(ctx context.Context, t Transition) error
	// LatestStatus returns the most recent transition or ErrNotFound.
	LatestStatus(ctx context.Context, accountID uuid.UUID) (Transition, error)
	// ListTransitions returns transitions newest first.
	ListTransitions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Transition, error)
}
