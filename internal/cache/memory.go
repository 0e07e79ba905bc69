package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps entries in process memory. Contents do not survive a restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]Entry
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]Entry)}
}

// Load retrieves an entry
func (m *MemoryBackend) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	return entry, true, nil
}

// Store saves an entry, replacing any previous one
func (m *MemoryBackend) Store(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[entry.Key] = entry
	return nil
}

// Delete removes an entry
func (m *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

// Clear removes all entries
func (m *MemoryBackend) Clear(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.items))
	m.items = make(map[string]Entry)
	return n, nil
}

// Stats returns entry count and age range
func (m *MemoryBackend) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for _, entry := range m.items {
		if stats.Count == 0 || entry.Timestamp.Before(stats.Oldest) {
			stats.Oldest = entry.Timestamp
		}
		if stats.Count == 0 || entry.Timestamp.After(stats.Newest) {
			stats.Newest = entry.Timestamp
		}
		stats.Count++
	}
	return stats, nil
}

// Keys lists entries newest first
func (m *MemoryBackend) Keys(_ context.Context, limit int) ([]KeyInfo, error) {
	m.mu.RLock()
	keys := make([]KeyInfo, 0, len(m.items))
	for _, entry := range m.items {
		keys = append(keys, KeyInfo{Key: entry.Key, Status: entry.Status, Timestamp: entry.Timestamp})
	}
	m.mu.RUnlock()

	sortNewestFirst(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Partition returns a separate, empty in-memory backend
func (m *MemoryBackend) Partition(string) (Backend, error) {
	return NewMemoryBackend(), nil
}

// Close is a no-op
func (m *MemoryBackend) Close() error { return nil }

func sortNewestFirst(keys []KeyInfo) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].Timestamp.Equal(keys[j].Timestamp) {
			return keys[i].Timestamp.After(keys[j].Timestamp)
		}
		return keys[i].Key < keys[j].Key
	})
}
