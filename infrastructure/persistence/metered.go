// Package persistence holds the journal stores and the decorators shared by
// all of them.
package persistence

import (
	"context"

	"github.com/framefield/tooll-sub003/application/ports"
	"github.com/framefield/tooll-sub003/pkg/observability"
)

// MeteredJournal counts writes to an underlying journal by outcome.
type MeteredJournal struct {
	inner     ports.Journal
	store     string
	collector *observability.Collector
}

// NewMeteredJournal wraps inner. A nil collector records nothing.
func NewMeteredJournal(inner ports.Journal, store string, collector *observability.Collector) *MeteredJournal {
	return &MeteredJournal{inner: inner, store: store, collector: collector}
}

func (m *MeteredJournal) Append(ctx context.Context, entry ports.Entry) error {
	err := m.inner.Append(ctx, entry)
	m.collector.RecordJournalWrite(m.store, err)
	return err
}

func (m *MeteredJournal) Entries(ctx context.Context, session string) ([]ports.Entry, error) {
	return m.inner.Entries(ctx, session)
}
