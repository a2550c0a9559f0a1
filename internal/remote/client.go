// Package remote exposes the backend operations the coordinator needs,
// composed from the lock table and the managed-drive adapter. The
// coordinator never caches any of these answers; the backend is the source
// of truth for lock state.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cadvault/drivelock/internal/drive"
	"github.com/cadvault/drivelock/internal/lockstore"
	"github.com/cadvault/drivelock/internal/model"
)

// Client defines the remote operations consumed by the coordinator.
type Client interface {
	// Contains reports whether the path resolves to a file on the managed
	// drive.
	Contains(ctx context.Context, path string) (bool, error)

	// IsLockedByOther reports whether another workstation holds an active
	// lock on the file.
	IsLockedByOther(ctx context.Context, path string) (bool, error)

	// LockFile acquires the lock for this workstation. A false return
	// without error means another workstation won the race.
	LockFile(ctx context.Context, path string) (bool, error)

	// UnlockFile releases this workstation's lock. A false return without
	// error means the lock was not ours to release.
	UnlockFile(ctx context.Context, path string) (bool, error)

	// SyncFile uploads the local file content to the managed drive. With
	// force set, the upload skips the ETag guard.
	SyncFile(ctx context.Context, path string, force bool) error

	// GetFileInfo returns the active lock on the file, or nil when
	// unlocked.
	GetFileInfo(ctx context.Context, path string) (*model.FileLock, error)
}

// DriveAdapter is the subset of *drive.Adapter used by Service.
type DriveAdapter interface {
	Lookup(ctx context.Context, path string) (*model.FileEntry, error)
	FileInfo(ctx context.Context, fileID string) (*model.FileEntry, error)
	Push(ctx context.Context, fileID string, content []byte, etag string) (*model.FileEntry, error)
}

// Service implements Client against the lock table and the managed drive.
type Service struct {
	drive     DriveAdapter
	locks     lockstore.Store
	owner     string // workstation ID
	ownerName string // display name recorded on acquired locks
}

// NewService creates a new Service.
func NewService(driveAdapter DriveAdapter, locks lockstore.Store, owner, ownerName string) *Service {
	return &Service{
		drive:     driveAdapter,
		locks:     locks,
		owner:     owner,
		ownerName: ownerName,
	}
}

func (s *Service) lookup(ctx context.Context, path string) (*model.FileEntry, error) {
	entry, err := s.drive.Lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Contains reports whether the path resolves to a managed-drive file.
func (s *Service) Contains(ctx context.Context, path string) (bool, error) {
	_, err := s.lookup(ctx, path)
	if errors.Is(err, drive.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsLockedByOther reports whether another workstation holds the lock.
func (s *Service) IsLockedByOther(ctx context.Context, path string) (bool, error) {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return false, err
	}
	lock, err := s.locks.Status(ctx, entry.ID)
	if err != nil {
		return false, err
	}
	return lock != nil && lock.Owner != s.owner, nil
}

// LockFile acquires the lock for this workstation.
func (s *Service) LockFile(ctx context.Context, path string) (bool, error) {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return false, err
	}
	_, err = s.locks.Acquire(ctx, entry.ID, s.owner, s.ownerName)
	if errors.Is(err, lockstore.ErrLockHeld) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UnlockFile releases this workstation's lock.
func (s *Service) UnlockFile(ctx context.Context, path string) (bool, error) {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return false, err
	}
	err = s.locks.Release(ctx, entry.ID, s.owner)
	if errors.Is(err, lockstore.ErrNotOwner) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SyncFile uploads the local file content to the managed drive.
func (s *Service) SyncFile(ctx context.Context, path string, force bool) error {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}

	etag := entry.ETag
	if force {
		etag = ""
	}
	if _, err := s.drive.Push(ctx, entry.ID, content, etag); err != nil {
		return fmt.Errorf("push %q: %w", entry.Name, err)
	}
	return nil
}

// Entry returns fresh managed-drive metadata for a path. The lookup answer
// may come from a stale listing, so the entry is re-read by ID.
func (s *Service) Entry(ctx context.Context, path string) (*model.FileEntry, error) {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.drive.FileInfo(ctx, entry.ID)
}

// GetFileInfo returns the active lock on the file, or nil when unlocked.
func (s *Service) GetFileInfo(ctx context.Context, path string) (*model.FileLock, error) {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.locks.Status(ctx, entry.ID)
}

// ExtendLock heartbeats this workstation's lock on an open document.
func (s *Service) ExtendLock(ctx context.Context, path string) error {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return err
	}
	_, err = s.locks.Heartbeat(ctx, entry.ID, s.owner)
	return err
}

// ForceUnlock releases the lock regardless of owner. Backs the
// administrative release command.
func (s *Service) ForceUnlock(ctx context.Context, path string) error {
	entry, err := s.lookup(ctx, path)
	if err != nil {
		return err
	}
	return s.locks.ForceRelease(ctx, entry.ID)
}
