// Package discovery gates "first encounter" notifications per actor.
package discovery

import (
	"context"
	"log"
	"sync"
)

// Categories used by the coordinator.
const (
	CategoryOres     = "ores"
	CategoryEntities = "entities"
)

type Entry struct {
	Category string `json:"category"`
	Item     string `json:"item"`
}

// Store is the durable side of the registry. PutDiscovery is a hand-off: an
// implementation may queue the write and return before it is persisted.
type Store interface {
	LoadDiscoveries(ctx context.Context, actorID string) ([]Entry, error)
	PutDiscovery(actorID string, e Entry) error
}

// Registry is the one structure shared across actor workers. Entries are
// never removed; inserting an existing key is a no-op.
type Registry struct {
	store Store
	log   *log.Logger

	mu   sync.Mutex
	seen map[string]map[Entry]struct{}
}

func NewRegistry(store Store, logger *log.Logger) *Registry {
	return &Registry{
		store: store,
		log:   logger,
		seen:  map[string]map[Entry]struct{}{},
	}
}

// Preload merges the actor's durable discoveries into memory. Store errors are
// returned but leave the registry usable with whatever is already in memory.
func (r *Registry) Preload(ctx context.Context, actorID string) error {
	if r.store == nil || actorID == "" {
		return nil
	}
	entries, err := r.store.LoadDiscoveries(ctx, actorID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.setLocked(actorID)
	for _, e := range entries {
		set[e] = struct{}{}
	}
	return nil
}

func (r *Registry) HasDiscovered(actorID, category, item string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[actorID][Entry{Category: category, Item: item}]
	return ok
}

// RecordDiscovery inserts the key and reports whether it was new. Lookup and
// insert happen under one lock, so concurrent callers racing on the same key
// see exactly one true.
func (r *Registry) RecordDiscovery(actorID, category, item string) bool {
	e := Entry{Category: category, Item: item}
	r.mu.Lock()
	set := r.setLocked(actorID)
	if _, ok := set[e]; ok {
		r.mu.Unlock()
		return false
	}
	set[e] = struct{}{}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.PutDiscovery(actorID, e); err != nil && r.log != nil {
			r.log.Printf("discovery persist failed actor=%s category=%s item=%s err=%v", actorID, category, item, err)
		}
	}
	return true
}

// Count returns the number of discoveries known for an actor.
func (r *Registry) Count(actorID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen[actorID])
}

func (r *Registry) setLocked(actorID string) map[Entry]struct{} {
	set := r.seen[actorID]
	if set == nil {
		set = map[Entry]struct{}{}
		r.seen[actorID] = set
	}
	return set
}
