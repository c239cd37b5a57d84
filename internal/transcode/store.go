package transcode

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store retains finished jobs so their outcome can still be queried.
// Implementations can be in-memory or remote; the Orchestrator serializes
// access, so implementations need not be safe for concurrent use by themselves.
type Store interface {
	Put(j Job)
	Get(id string) (Job, bool)
	List() []Job
	Len() int
}

// LRUStore keeps the most recently finished or queried jobs up to a fixed size.
type LRUStore struct {
	cache *lru.Cache[string, Job]
}

// NewLRUStore returns a store holding at most size jobs. onEvict may be nil.
func NewLRUStore(size int, onEvict func(Job)) (*LRUStore, error) {
	cache, err := lru.NewWithEvict[string, Job](size, func(_ string, j Job) {
		if onEvict != nil {
			onEvict(j)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create job store: %w", err)
	}
	return &LRUStore{cache: cache}, nil
}

// Put implements Store.Put.
func (s *LRUStore) Put(j Job) {
	s.cache.Add(j.ID, j)
}

// Get implements Store.Get. A hit refreshes the job's recency.
func (s *LRUStore) Get(id string) (Job, bool) {
	return s.cache.Get(id)
}

// List implements Store.List, oldest first.
func (s *LRUStore) List() []Job {
	return s.cache.Values()
}

// Len implements Store.Len.
func (s *LRUStore) Len() int {
	return s.cache.Len()
}
