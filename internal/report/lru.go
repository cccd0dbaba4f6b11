package report

import (
	"container/list"
	"sync"
)

// LRUStore is an in-memory LRU cache in front of a backing Store. Saves
// write through; loads that miss are promoted into the cache.
type LRUStore struct {
	mu     sync.Mutex
	cap    int
	back   Store
	order  *list.List // of *RunResult, most recent at front
	items  map[string]*list.Element
	latest string
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity must be >= 1.
func NewLRUStore(capacity int, back Store) *LRUStore {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUStore{
		cap:   capacity,
		back:  back,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Save caches the result and writes it to the backing store.
func (s *LRUStore) Save(result *RunResult) error {
	if err := s.back.Save(result); err != nil {
		return err
	}
	s.mu.Lock()
	s.put(result)
	s.latest = result.ID
	s.mu.Unlock()
	return nil
}

// Load checks the cache first and falls back to the backing store.
func (s *LRUStore) Load(runID string) (*RunResult, error) {
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		s.order.MoveToFront(e)
		r := e.Value.(*RunResult)
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	result, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.put(result)
	s.mu.Unlock()
	return result, nil
}

// Latest returns the most recently saved run.
func (s *LRUStore) Latest() (*RunResult, error) {
	s.mu.Lock()
	id := s.latest
	s.mu.Unlock()
	if id == "" {
		return s.back.Latest()
	}
	return s.Load(id)
}

// put inserts or refreshes result. Callers hold mu.
func (s *LRUStore) put(result *RunResult) {
	if e, ok := s.items[result.ID]; ok {
		e.Value = result
		s.order.MoveToFront(e)
		return
	}
	s.items[result.ID] = s.order.PushFront(result)
	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*RunResult).ID)
	}
}
