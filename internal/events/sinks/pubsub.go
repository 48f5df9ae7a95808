package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/events"
)

// Publisher sends one payload to a topic and returns the server message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// EventPayload is the JSON document published for each event.
type EventPayload struct {
	AccountID string    `json:"account_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Note      string    `json:"note,omitempty"`
	TS        time.Time `json:"ts"`
}

// PubSubSink forwards events to a message bus so other services can follow
// connection state. Only the kinds passed to NewPubSubSink are published; all
// kinds are published when none are given.
type PubSubSink struct {
	pub    Publisher
	topic  string
	kinds  map[events.Kind]struct{}
	logger *zap.Logger
}

// NewPubSubSink constructs a PubSubSink publishing to topic.
func NewPubSubSink(pub Publisher, topic string, logger *zap.Logger, kinds ...events.Kind) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PubSubSink{pub: pub, topic: topic, logger: logger}
	if len(kinds) > 0 {
		s.kinds = make(map[events.Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	return s
}

// Consume publishes each selected event in order and stops at the first
// publish failure.
func (s *PubSubSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		if s.kinds != nil {
			if _, ok := s.kinds[evt.Kind]; !ok {
				continue
			}
		}
		id, err := s.pub.Publish(ctx, s.topic, payloadFor(evt))
		if err != nil {
			return fmt.Errorf("publish %s event: %w", evt.Kind, err)
		}
		s.logger.Debug("event published",
			zap.String("message_id", id),
			zap.Stringer("account_id", evt.AccountID),
			zap.String("kind", string(evt.Kind)))
	}
	return nil
}

// Close implements the Sink interface; the publisher is closed by its owner.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}

func payloadFor(evt events.Event) EventPayload {
	return EventPayload{
		AccountID: evt.AccountID.String(),
		Kind:      string(evt.Kind),
		Status:    evt.Status,
		Progress:  evt.Progress,
		Message:   evt.Message,
		Note:      evt.Note,
		TS:        evt.TS.UTC(),
	}
}
