package cache

import (
	"container/list"
	"sync"
	"time"
)

// memoryStore is the L1 tier: a bounded in-process map with LRU eviction.
// The list is ordered by last access, most recent at the front.
type memoryStore struct {
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
}

func newMemoryStore(maxEntries int, now func() time.Time) *memoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &memoryStore{
		maxEntries: maxEntries,
		now:        now,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// get returns a copy of the live entry for key. Expired entries are purged
// and reported as absent with expired=true.
func (s *memoryStore) get(key string) (entry Entry, found, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.items[key]
	if !ok {
		return Entry{}, false, false
	}

	e := element.Value.(*Entry)
	now := s.now()
	if e.IsExpired(now) {
		s.removeElement(element)
		return Entry{}, false, true
	}

	e.touch(now)
	s.lru.MoveToFront(element)
	return *e, true, false
}

// peek reports whether a live entry exists without touching it.
func (s *memoryStore) peek(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.items[key]
	if !ok {
		return false
	}
	return !element.Value.(*Entry).IsExpired(s.now())
}

// set inserts or replaces key and returns the number of entries evicted
// to make room (0 or 1).
func (s *memoryStore) set(key string, value any, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if element, ok := s.items[key]; ok {
		e := element.Value.(*Entry)
		e.Value = value
		e.InsertedAt = now
		e.TTL = ttl
		e.LastAccessedAt = now
		s.lru.MoveToFront(element)
		return 0
	}

	evicted := 0
	if s.lru.Len() >= s.maxEntries {
		if oldest := s.lru.Back(); oldest != nil {
			s.removeElement(oldest)
			evicted = 1
		}
	}

	e := &Entry{
		Key:            key,
		Value:          value,
		InsertedAt:     now,
		TTL:            ttl,
		LastAccessedAt: now,
	}
	s.items[key] = s.lru.PushFront(e)
	return evicted
}

func (s *memoryStore) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeElement(element)
	return true
}

// keys returns all live keys accepted by match (nil matches everything).
func (s *memoryStore) keys(match func(string) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]string, 0, len(s.items))
	for key, element := range s.items {
		if element.Value.(*Entry).IsExpired(now) {
			continue
		}
		if match == nil || match(key) {
			out = append(out, key)
		}
	}
	return out
}

// sweep removes all expired entries and returns how many were removed.
func (s *memoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for element := s.lru.Front(); element != nil; {
		next := element.Next()
		if element.Value.(*Entry).IsExpired(now) {
			s.removeElement(element)
			removed++
		}
		element = next
	}
	return removed
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *memoryStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.lru.Init()
}

// caller must hold s.mu
func (s *memoryStore) removeElement(element *list.Element) {
	e := element.Value.(*Entry)
	s.lru.Remove(element)
	delete(s.items, e.Key)
}
