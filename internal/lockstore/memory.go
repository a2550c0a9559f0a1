package lockstore

import (
	"context"
	"sync"
	"time"

	"github.com/cadvault/drivelock/internal/model"
)

// MemoryStore implements Store using an in-memory map for testing and dev
// mode.
type MemoryStore struct {
	locks       map[string]*model.FileLock
	mu          sync.Mutex
	ttlDuration time.Duration
}

// NewMemoryStore creates a new MemoryStore with the default TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:       make(map[string]*model.FileLock),
		ttlDuration: DefaultTTL,
	}
}

func (m *MemoryStore) Acquire(ctx context.Context, fileID, owner, ownerName string) (*model.FileLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := m.locks[fileID]; ok {
		if existing.ExpiresAt > now && existing.Owner != owner {
			return nil, ErrLockHeld
		}
	}

	lock := &model.FileLock{
		FileID:     fileID,
		Owner:      owner,
		OwnerName:  ownerName,
		AcquiredAt: now,
		ExpiresAt:  now + int64(m.ttlDuration.Seconds()),
	}
	m.locks[fileID] = lock
	return lock, nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, fileID, owner string) (*model.FileLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[fileID]
	if !ok || existing.Owner != owner {
		return nil, ErrNotOwner
	}
	existing.ExpiresAt = time.Now().Unix() + int64(m.ttlDuration.Seconds())
	return existing, nil
}

func (m *MemoryStore) Release(ctx context.Context, fileID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[fileID]
	if !ok || existing.Owner != owner {
		return ErrNotOwner
	}
	delete(m.locks, fileID)
	return nil
}

func (m *MemoryStore) ForceRelease(ctx context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, fileID)
	return nil
}

func (m *MemoryStore) Status(ctx context.Context, fileID string) (*model.FileLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[fileID]
	if !ok {
		return nil, nil
	}
	if existing.ExpiresAt < time.Now().Unix() {
		return nil, nil // Expired
	}
	return existing, nil
}
