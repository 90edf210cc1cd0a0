// Package memory provides an in-process journal for tests and single-node
// development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/framefield/tooll-sub003/application/ports"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// Journal keeps entries per session in memory.
type Journal struct {
	mu       sync.RWMutex
	sessions map[string][]ports.Entry
}

// NewJournal creates an empty journal
func NewJournal() *Journal {
	return &Journal{sessions: make(map[string][]ports.Entry)}
}

// Append stores an entry. Sequences must be unique within a session.
func (j *Journal) Append(ctx context.Context, entry ports.Entry) error {
	if entry.Session == "" {
		return pkgerrors.NewValidationError("journal entry needs a session")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.sessions[entry.Session]
	for _, e := range entries {
		if e.Sequence == entry.Sequence {
			return pkgerrors.NewConflictError(fmt.Sprintf("sequence %d already journaled for %s", entry.Sequence, entry.Session))
		}
	}
	j.sessions[entry.Session] = append(entries, entry)
	return nil
}

// Entries returns a copy of the session's entries ordered by sequence.
func (j *Journal) Entries(ctx context.Context, session string) ([]ports.Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := append([]ports.Entry(nil), j.sessions[session]...)
	sort.Slice(out, func(a, b int) bool { return out[a].Sequence < out[b].Sequence })
	return out, nil
}

// Sessions lists the journaled sessions.
func (j *Journal) Sessions() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	names := make([]string, 0, len(j.sessions))
	for name := range j.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
