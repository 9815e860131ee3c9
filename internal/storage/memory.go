package storage

import (
	"sync"
	"time"

	"github.com/HerbHall/pilethost/pkg/pilet"
)

// Compile-time interface guard.
var _ pilet.Storage = (*Memory)(nil)

// Memory is an in-process pilet.Storage. Items do not survive the process.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   string
	expires time.Time
}

// NewMemory creates an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// SetItem stores value under name.
func (m *Memory) SetItem(name, value string, expires *time.Time) error {
	item := memoryItem{value: value}
	if expires != nil {
		item.expires = *expires
	}
	m.mu.Lock()
	m.items[name] = item
	m.mu.Unlock()
	return nil
}

// GetItem returns the value stored under name, dropping it if expired.
func (m *Memory) GetItem(name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[name]
	if !ok {
		return "", false, nil
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		delete(m.items, name)
		return "", false, nil
	}
	return item.value, true, nil
}

// RemoveItem deletes name.
func (m *Memory) RemoveItem(name string) error {
	m.mu.Lock()
	delete(m.items, name)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored items, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
