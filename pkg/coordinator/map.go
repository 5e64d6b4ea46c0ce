package coordinator

import (
	"sort"
	"sync"
)

// Map holds the coordinator of every loaded config entry.
type Map struct {
	mu sync.RWMutex
	m  map[string]*Coordinator
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{m: map[string]*Coordinator{}}
}

// Set stores c under entryID and returns the coordinator it replaced, if any.
func (m *Map) Set(entryID string, c *Coordinator) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.m[entryID]
	m.m[entryID] = c
	return prev, ok
}

func (m *Map) Get(entryID string) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.m[entryID]
	return c, ok
}

// Delete removes and returns the coordinator of entryID.
func (m *Map) Delete(entryID string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.m[entryID]
	delete(m.m, entryID)
	return c, ok
}

func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Range calls fn for each entry in id order until fn returns false. fn may
// modify the map.
func (m *Map) Range(fn func(entryID string, c *Coordinator) bool) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.m))
	for id := range m.m {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		c, ok := m.Get(id)
		if !ok {
			continue
		}
		if !fn(id, c) {
			return
		}
	}
}
