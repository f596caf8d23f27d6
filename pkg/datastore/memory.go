package datastore

import (
	"context"
	"sync"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
)

// MemoryCache is a bounded in-memory TranslationCache. When full, the least
// recently used entry is evicted.
type MemoryCache struct {
	mu       sync.Mutex
	now      func() time.Time
	capacity int
	entries  map[string]*model.Translation
}

var _ TranslationCache = (*MemoryCache)(nil)

// NewMemory creates a MemoryCache using time.Now().UTC().
func NewMemory(capacity int) *MemoryCache {
	return NewMemoryWithClock(capacity, func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryCache with a custom clock.
func NewMemoryWithClock(capacity int, now func() time.Time) *MemoryCache {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryCache{
		now:      now,
		capacity: capacity,
		entries:  make(map[string]*model.Translation),
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*model.Translation, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	t.Hits++
	t.LastUsedAt = m.now()
	cp := *t
	return &cp, nil
}

func (m *MemoryCache) Put(_ context.Context, t *model.Translation) error {
	if err := validateEntry(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.entries[t.Key]; ok {
		existing.TranslatedText = t.TranslatedText
		existing.LastUsedAt = now
		return nil
	}
	if len(m.entries) >= m.capacity {
		m.evictLocked()
	}
	cp := *t
	cp.Hits = 0
	cp.CreatedAt = now
	cp.LastUsedAt = now
	m.entries[t.Key] = &cp
	return nil
}

func (m *MemoryCache) evictLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, t := range m.entries {
		if oldestKey == "" || t.LastUsedAt.Before(oldest) {
			oldestKey, oldest = k, t.LastUsedAt
		}
	}
	delete(m.entries, oldestKey)
}

func (m *MemoryCache) Prune(_ context.Context, unusedSince time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.entries {
		if t.LastUsedAt.Before(unusedSince) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryCache) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryCache) Close() error { return nil }
