package discovery

import (
	"context"
	"sort"
	"sync"
)

// MemStore is a process-local Store, used when the index database is disabled.
type MemStore struct {
	mu   sync.Mutex
	data map[string]map[Entry]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]map[Entry]struct{}{}}
}

func (s *MemStore) LoadDiscoveries(_ context.Context, actorID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.data[actorID]))
	for e := range s.data[actorID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Item < out[j].Item
	})
	return out, nil
}

func (s *MemStore) PutDiscovery(actorID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.data[actorID]
	if set == nil {
		set = map[Entry]struct{}{}
		s.data[actorID] = set
	}
	set[e] = struct{}{}
	return nil
}
