// Package ports declares the outbound interfaces of the application layer.
package ports

import (
	"context"
	"time"

	"github.com/framefield/tooll-sub003/application/commands"
	"github.com/framefield/tooll-sub003/domain/events"
)

// JournalAction is the history action an entry records.
type JournalAction string

const (
	JournalDo   JournalAction = "do"
	JournalUndo JournalAction = "undo"
	JournalRedo JournalAction = "redo"
)

// Entry is one journaled history action. Sequence increases by one per
// action within a session.
type Entry struct {
	Session   string          `json:"session" validate:"required"`
	Sequence  int64           `json:"sequence" validate:"gte=1"`
	Action    JournalAction   `json:"action" validate:"oneof=do undo redo"`
	Name      string          `json:"name"`
	Record    commands.Record `json:"record"`
	Timestamp time.Time       `json:"timestamp"`
}

// Journal persists the actions applied by the undo/redo stack.
// This is a port in hexagonal architecture; implementations live in
// infrastructure/persistence.
type Journal interface {
	// Append stores one entry.
	Append(ctx context.Context, entry Entry) error

	// Entries returns a session's entries ordered by sequence.
	Entries(ctx context.Context, session string) ([]Entry, error)
}

// EventPublisher publishes history events to external subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, evts ...events.DomainEvent) error
}
