package ledger

import (
	"context"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// EventSink receives mint events after they are committed.
type EventSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Publish(ctx context.Context, e *domain.MintEvent) error
}

// StoreSink appends events to a storage.MintEventStore.
type StoreSink struct {
	name  string
	store storage.MintEventStore
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(name string, store storage.MintEventStore) *StoreSink {
	return &StoreSink{name: name, store: store}
}

// Name implements EventSink.
func (s *StoreSink) Name() string {
	return s.name
}

// Publish implements EventSink.
func (s *StoreSink) Publish(ctx context.Context, e *domain.MintEvent) error {
	return s.store.Insert(ctx, e)
}
