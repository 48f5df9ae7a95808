package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/events"
	"github.com/JakeFAU/accountlink/internal/store"
)

// StoreSink persists status transitions via a store.StatusRepository. Failure
// events emitted right after a transition are folded into that transition's
// note instead of producing extra rows.
type StoreSink struct {
	repo   store.StatusRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.StatusRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collects the transitions in the batch and forwards them to the
// repository in order. It respects ctx deadlines and returns any repository
// errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.Transition
	last := make(map[uuid.UUID]int)

	for _, evt := range batch {
		switch evt.Kind {
		case events.KindStatus:
			last[evt.AccountID] = len(pending)
			pending = append(pending, store.Transition{
				AccountID: evt.AccountID,
				Status:    evt.Status,
				Previous:  evt.Note,
				At:        evt.TS,
			})
		case events.KindConnectFailed, events.KindAuthFailure:
			idx, ok := last[evt.AccountID]
			if !ok || pending[idx].Status != evt.Status {
				s.logger.Debug("failure event without matching transition",
					zap.Stringer("account_id", evt.AccountID),
					zap.String("kind", string(evt.Kind)))
				continue
			}
			if evt.Note != "" {
				note := evt.Note
				pending[idx].Note = &note
			}
		}
	}

	for _, t := range pending {
		if err := s.repo.AppendTransition(ctx, t); err != nil {
			return fmt.Errorf("append transition: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
