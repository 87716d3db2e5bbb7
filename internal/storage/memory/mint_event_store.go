package memory

import (
	"context"
	"sort"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// MintEventStore is an in-memory implementation of storage.MintEventStore.
type MintEventStore struct {
	mu          sync.RWMutex
	byID        map[string]*domain.MintEvent   // keyed by event id
	byRecipient map[string][]*domain.MintEvent // keyed by recipient
}

// NewMintEventStore creates a new in-memory mint event store.
func NewMintEventStore() *MintEventStore {
	return &MintEventStore{
		byID:        make(map[string]*domain.MintEvent),
		byRecipient: make(map[string][]*domain.MintEvent),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if the event id already exists.
func (s *MintEventStore) Insert(_ context.Context, e *domain.MintEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	eventCopy := *e
	s.byID[e.ID] = &eventCopy
	s.byRecipient[e.To] = append(s.byRecipient[e.To], &eventCopy)
	return nil
}

// GetByRecipient retrieves all events for a recipient, ordered by sequence ASC.
func (s *MintEventStore) GetByRecipient(_ context.Context, recipient string) ([]*domain.MintEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copySorted(s.byRecipient[recipient]), nil
}

// GetAll retrieves every event, ordered by sequence ASC.
func (s *MintEventStore) GetAll(_ context.Context) ([]*domain.MintEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.MintEvent, 0, len(s.byID))
	for _, e := range s.byID {
		all = append(all, e)
	}
	return copySorted(all), nil
}

func copySorted(events []*domain.MintEvent) []*domain.MintEvent {
	result := make([]*domain.MintEvent, 0, len(events))
	for _, e := range events {
		eventCopy := *e
		result = append(result, &eventCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result
}

var _ storage.MintEventStore = (*MintEventStore)(nil)
