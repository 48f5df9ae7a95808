package connection

import (
	"context"

	"github.com/google/uuid"

	"github.com/JakeFAU/accountlink/internal/progress"
)

// Core is the per-account session and sync engine owned by a Connection
// while it is connected.
type Core interface {
	// SetDelegate installs the receiver of errors and busy notifications;
	// nil detaches it.
	SetDelegate(d Delegate)
	// ObserveReachability delivers the current reachability immediately and
	// every later change until cancel is called.
	ObserveReachability(fn func(r Reachability, shortDescription string)) (cancel func())
	// ObserveMessages delivers the Core's message list on every change.
	ObserveMessages(fn func(messages []Message, groups []MessageGroup)) (cancel func())
	AddMessagePresenter(p MessagePresenter)
	RemoveMessagePresenter(p MessagePresenter)
	// StartKeepAlive keeps the session warm until stop is called.
	StartKeepAlive() (stop func())
}

// CoreProvider hands out and takes back Cores keyed by account.
type CoreProvider interface {
	RequestCore(ctx context.Context, accountID uuid.UUID) (Core, error)
	ReturnCore(ctx context.Context, accountID uuid.UUID) error
}

// Delegate receives Core-originated notifications. Connection implements it.
type Delegate interface {
	HandleError(err error, issue *Issue)
	HandleBusy(p *progress.Progress)
}

// Message is a user-facing notice raised by a Core.
type Message struct {
	ID        string
	AccountID uuid.UUID
	Title     string
	Text      string
	// GroupKey clusters related messages; empty means ungrouped.
	GroupKey string
	Resolved bool
}

// MessageGroup is a set of messages sharing a GroupKey.
type MessageGroup struct {
	Key      string
	Messages []Message
}

// MessagePresenter displays messages on behalf of a consumer.
type MessagePresenter interface {
	PresentMessage(m Message)
}

// SelectMessages keeps the unresolved messages that belong to accountID and
// groups them by GroupKey in first-seen order.
func SelectMessages(accountID uuid.UUID, messages []Message) ([]Message, []MessageGroup) {
	var (
		selected []Message
		groups   []MessageGroup
		index    = map[string]int{}
	)
	for _, m := range messages {
		if m.Resolved || m.AccountID != accountID {
			continue
		}
		selected = append(selected, m)
		if m.GroupKey == "" {
			continue
		}
		i, ok := index[m.GroupKey]
		if !ok {
			i = len(groups)
			index[m.GroupKey] = i
			groups = append(groups, MessageGroup{Key: m.GroupKey})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return selected, groups
}
