package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/config"
)

// ErrCapacityExceeded is matched by every *CapacityError.
var ErrCapacityExceeded = errors.New("registry capacity exceeded")

// CapacityError reports a full registry map. Full maps reject new ids
// rather than evicting another session's entry.
type CapacityError struct {
	Map  string
	Size int
	Max  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("registry %s is full (%d/%d)", e.Map, e.Size, e.Max)
}

// Is makes errors.Is(err, ErrCapacityExceeded) match.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// boundedMap is a mutex-guarded map with admission control.
type boundedMap[V any] struct {
	name     string
	capacity config.Capacity
	logger   *zap.Logger

	mu     sync.RWMutex
	items  map[string]V
	warned bool
}

func newBoundedMap[V any](name string, capacity config.Capacity, logger *zap.Logger) *boundedMap[V] {
	return &boundedMap[V]{
		name:     name,
		capacity: capacity,
		logger:   logger,
		items:    make(map[string]V),
	}
}

// canAddLocked checks admission for a new id. Callers hold m.mu.
func (m *boundedMap[V]) canAddLocked() error {
	size := len(m.items)
	if size >= m.capacity.Max {
		return &CapacityError{Map: m.name, Size: size, Max: m.capacity.Max}
	}
	if size >= m.capacity.Warn {
		if !m.warned {
			m.warned = true
			m.logger.Warn("registry approaching capacity",
				zap.String("map", m.name),
				zap.Int("size", size),
				zap.Int("max", m.capacity.Max))
		}
	} else {
		m.warned = false
	}
	return nil
}

func (m *boundedMap[V]) canAdd() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canAddLocked()
}

// put stores v under id. Replacing an existing id never counts against
// capacity.
func (m *boundedMap[V]) put(id string, v V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[id]; !exists {
		if err := m.canAddLocked(); err != nil {
			return err
		}
	}
	m.items[id] = v
	return nil
}

func (m *boundedMap[V]) get(id string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[id]
	return v, ok
}

// update applies fn to the entry under the write lock.
func (m *boundedMap[V]) update(id string, fn func(V)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if ok {
		fn(v)
	}
	return ok
}

func (m *boundedMap[V]) remove(id string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if ok {
		delete(m.items, id)
	}
	return v, ok
}

func (m *boundedMap[V]) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// sweep removes expired entries in two phases. Phase one collects ids under
// the read lock; phase two takes the write lock and deletes only those ids,
// re-checking each one because a handler may have refreshed or replaced it
// between the phases.
func (m *boundedMap[V]) sweep(now time.Time, expired func(V, time.Time) bool) []V {
	m.mu.RLock()
	var ids []string
	for id, v := range m.items {
		if expired(v, now) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make([]V, 0, len(ids))
	for _, id := range ids {
		v, ok := m.items[id]
		if !ok || !expired(v, now) {
			continue
		}
		delete(m.items, id)
		removed = append(removed, v)
	}
	if len(m.items) < m.capacity.Warn {
		m.warned = false
	}
	return removed
}
