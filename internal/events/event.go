// Package events defines the connection events emitted by the lifecycle manager.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes the type of change represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindStatus        Kind = "STATUS"
	KindBusy          Kind = "BUSY"
	KindCoreError     Kind = "CORE_ERROR"
	KindSummary       Kind = "SUMMARY"
	KindConnectFailed Kind = "CONNECT_FAILED"
	KindAuthFailure   Kind = "AUTH_FAILURE"
)

// Event captures a single observable change on one account connection.
type Event struct {
	// AccountID identifies the connection the event belongs to.
	AccountID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which change occurred.
	Kind Kind
	// Status is the connection status after the change.
	Status string
	// Progress carries the summary or busy fraction in [0,1].
	Progress float64
	// Message is the user-facing summary message, if any.
	Message string
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.AccountID == uuid.Nil {
		return errors.New("account id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStatus:
		if e.Status == "" {
			return errors.New("status event requires status")
		}
	case KindBusy, KindCoreError, KindSummary, KindConnectFailed, KindAuthFailure:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Progress < 0 || e.Progress > 1 {
		return errors.New("progress must be within [0,1]")
	}
	return nil
}
