package connection

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps shard indices to running shards. It is written once per
// shard during startup and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	shards map[int]*Shard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{shards: make(map[int]*Shard)}
}

// Insert registers a shard. Each index may be inserted once.
func (r *Registry) Insert(index int, shard *Shard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shards[index]; ok {
		return fmt.Errorf("shard %d: %w", index, ErrDuplicateShard)
	}
	r.shards[index] = shard
	return nil
}

// Get returns the shard at index.
func (r *Registry) Get(index int) (*Shard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shards[index]
	return s, ok
}

// Len returns the number of registered shards.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shards)
}

// Indices returns the registered indices in increasing order.
func (r *Registry) Indices() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	indices := make([]int, 0, len(r.shards))
	for i := range r.shards {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// All returns the registered shards ordered by index.
func (r *Registry) All() []*Shard {
	indices := r.Indices()
	r.mu.RLock()
	defer r.mu.RUnlock()
	shards := make([]*Shard, 0, len(indices))
	for _, i := range indices {
		if s, ok := r.shards[i]; ok {
			shards = append(shards, s)
		}
	}
	return shards
}
