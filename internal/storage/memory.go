package storage

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	pending   bool
	expiresAt time.Time
}

// Memory is an in-process Storage and Guard used in tests and local development
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Storage
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	if !ok || entry.pending {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Set implements Storage
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return nil
}

// Remove implements Storage
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Reserve implements Guard
func (m *Memory) Reserve(_ context.Context, key string, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		return Reservation{}, ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	if !ok {
		m.entries[key] = memoryEntry{pending: true, expiresAt: m.expiry(ttl)}
		return Reservation{State: ReservationNew}, nil
	}
	if entry.pending {
		return Reservation{State: ReservationPending}, nil
	}
	return Reservation{State: ReservationCompleted, Result: append([]byte(nil), entry.value...)}, nil
}

// Complete implements Guard
func (m *Memory) Complete(_ context.Context, key string, result []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: append([]byte(nil), result...), expiresAt: m.expiry(ttl)}
	return nil
}

// Release implements Guard
func (m *Memory) Release(ctx context.Context, key string) error {
	return m.Remove(ctx, key)
}

// Keys returns the live keys, for assertions in tests
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		if _, ok := m.lookup(key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// lookup must be called with mu held
func (m *Memory) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}
