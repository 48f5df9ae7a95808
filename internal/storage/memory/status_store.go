package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/accountlink/internal/store"
)

// StatusStore provides an in-memory store.StatusRepository for development/testing.
type StatusStore struct {
	mu      sync.RWMutex
	history map[uuid.UUID][]store.Transition
}

var _ store.StatusRepository = (*StatusStore)(nil)

// NewStatusStore constructs a StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{history: make(map[uuid.UUID][]store.Transition)}
}

// AppendTransition records a transition.
func (s *StatusStore) AppendTransition(_ context.Context, t store.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Note != nil {
		note := *t.Note
		t.Note = &note
	}
	s.history[t.AccountID] = append(s.history[t.AccountID], t)
	return nil
}

// LatestStatus returns the newest transition for accountID.
func (s *StatusStore) LatestStatus(_ context.Context, accountID uuid.UUID) (store.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[accountID]
	if len(h) == 0 {
		return store.Transition{}, store.ErrNotFound
	}
	return h[len(h)-1], nil
}

// ListTransitions returns transitions newest first, paginated.
func (s *StatusStore) ListTransitions(_ context.Context, accountID uuid.UUID, limit, offset int) ([]store.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[accountID]
	if offset < 0 {
		offset = 0
	}
	out := make([]store.Transition, 0, len(h))
	for i := len(h) - 1 - offset; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h[i])
	}
	return out, nil
}
