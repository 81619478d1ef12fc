package fetchcache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process LRU cache with per-entry TTL. It is safe for
// concurrent use.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List
	now      func() time.Time
}

type memoryEntry struct {
	id       string
	payload  []byte
	storedAt time.Time
}

// NewMemory creates a memory cache holding at most capacity entries,
// each valid for ttl.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached payload for key, expiring stale entries on
// access.
func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool, error) {
	id := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	element, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}
	entry := element.Value.(*memoryEntry)
	if m.now().Sub(entry.storedAt) > m.ttl {
		m.order.Remove(element)
		delete(m.entries, id)
		return nil, false, nil
	}
	m.order.MoveToFront(element)
	return entry.payload, true, nil
}

// Set stores payload under key, evicting the least recently used entry
// when at capacity.
func (m *Memory) Set(_ context.Context, key Key, payload []byte) error {
	id := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if element, ok := m.entries[id]; ok {
		entry := element.Value.(*memoryEntry)
		entry.payload = payload
		entry.storedAt = m.now()
		m.order.MoveToFront(element)
		return nil
	}

	if m.order.Len() >= m.capacity {
		oldest := m.order.Back()
		if oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*memoryEntry).id)
		}
	}
	m.entries[id] = m.order.PushFront(&memoryEntry{
		id:       id,
		payload:  payload,
		storedAt: m.now(),
	})
	return nil
}
