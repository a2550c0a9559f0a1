package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/cadvault/drivelock/internal/model"
)

// Mock implements Client with an in-memory map and records every call for
// assertions.
type Mock struct {
	// Owner is the workstation ID the mock considers "self".
	Owner string
	// Tracked lists the paths the backend knows about.
	Tracked map[string]bool
	// Locks maps path -> active lock.
	Locks map[string]*model.FileLock
	// FailWith, when set, is returned from every operation.
	FailWith error

	mu    sync.Mutex
	calls []string
}

// NewMock creates a Mock with no tracked files.
func NewMock(owner string) *Mock {
	return &Mock{
		Owner:   owner,
		Tracked: make(map[string]bool),
		Locks:   make(map[string]*model.FileLock),
	}
}

func (m *Mock) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded call log.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many recorded calls have the given prefix.
func (m *Mock) CallCount(prefix string) int {
	n := 0
	for _, c := range m.Calls() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (m *Mock) Contains(ctx context.Context, path string) (bool, error) {
	m.record("Contains(%s)", path)
	if m.FailWith != nil {
		return false, m.FailWith
	}
	return m.Tracked[path], nil
}

func (m *Mock) IsLockedByOther(ctx context.Context, path string) (bool, error) {
	m.record("IsLockedByOther(%s)", path)
	if m.FailWith != nil {
		return false, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.Locks[path]
	return ok && lock.Owner != m.Owner, nil
}

func (m *Mock) LockFile(ctx context.Context, path string) (bool, error) {
	m.record("LockFile(%s)", path)
	if m.FailWith != nil {
		return false, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok := m.Locks[path]; ok && lock.Owner != m.Owner {
		return false, nil
	}
	m.Locks[path] = &model.FileLock{FileID: path, Owner: m.Owner}
	return true, nil
}

func (m *Mock) UnlockFile(ctx context.Context, path string) (bool, error) {
	m.record("UnlockFile(%s)", path)
	if m.FailWith != nil {
		return false, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok := m.Locks[path]; !ok || lock.Owner != m.Owner {
		return false, nil
	}
	delete(m.Locks, path)
	return true, nil
}

func (m *Mock) SyncFile(ctx context.Context, path string, force bool) error {
	m.record("SyncFile(%s,force=%t)", path, force)
	return m.FailWith
}

func (m *Mock) GetFileInfo(ctx context.Context, path string) (*model.FileLock, error) {
	m.record("GetFileInfo(%s)", path)
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Locks[path], nil
}
