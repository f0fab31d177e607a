package matching

import (
	"context"
	"sync"
	"time"
)

type heldLock struct {
	token     string
	expiresAt time.Time
}

// MemoryLocationLock is the single-process LocationLock used without Redis.
type MemoryLocationLock struct {
	mu    sync.Mutex
	held  map[string]heldLock
	clock func() time.Time
}

// NewMemoryLocationLock constructs MemoryLocationLock.
func NewMemoryLocationLock() *MemoryLocationLock {
	return &MemoryLocationLock{held: make(map[string]heldLock), clock: time.Now}
}

// TryLock takes the location unless an unexpired lock holds it.
func (m *MemoryLocationLock) TryLock(_ context.Context, location, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if current, ok := m.held[location]; ok && now.Before(current.expiresAt) {
		return false, nil
	}
	m.held[location] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

// Unlock releases the location if token owns it.
func (m *MemoryLocationLock) Unlock(_ context.Context, location, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.held[location]; ok && current.token == token {
		delete(m.held, location)
	}
	return nil
}
