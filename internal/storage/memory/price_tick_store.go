package memory

import (
	"context"
	"sort"
	"sync"

	"curvedex/internal/domain"
	"curvedex/internal/storage"
)

// PriceTickStore is an in-memory implementation of
// storage.PriceTickStore.
type PriceTickStore struct {
	mu    sync.RWMutex
	ticks []*domain.PriceTick
}

// NewPriceTickStore creates a new in-memory price tick store.
func NewPriceTickStore() *PriceTickStore {
	return &PriceTickStore{}
}

// Compile-time interface check.
var _ storage.PriceTickStore = (*PriceTickStore)(nil)

// Insert appends a price observation.
func (s *PriceTickStore) Insert(_ context.Context, tick *domain.PriceTick) error {
	if tick == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tick
	s.ticks = append(s.ticks, &cp)
	return nil
}

// GetSince retrieves ticks observed at or after sinceMs.
func (s *PriceTickStore) GetSince(_ context.Context, sinceMs int64) ([]*domain.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PriceTick
	for _, tick := range s.ticks {
		if tick.ObservedAt >= sinceMs {
			cp := *tick
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ObservedAt < out[j].ObservedAt
	})
	return out, nil
}
