// Package lockstore implements the remote lock table. Each managed-drive
// file maps to at most one row; ownership is enforced with DynamoDB
// conditional writes and rows age out through a TTL attribute, so a crashed
// workstation cannot hold a file forever.
package lockstore

import (
	"context"
	"errors"

	"github.com/cadvault/drivelock/internal/model"
)

// ErrLockHeld is returned when another workstation holds an active lock.
var ErrLockHeld = errors.New("file is locked by another workstation")

// ErrNotOwner is returned when releasing or extending a lock the caller
// does not own.
var ErrNotOwner = errors.New("lock not found or not owned by this workstation")

// Store defines the interface for remote lock state.
type Store interface {
	// Acquire attempts to take the lock on a file. It succeeds when no
	// lock exists, the existing lock has expired, or the existing lock
	// belongs to the same owner (refresh).
	Acquire(ctx context.Context, fileID, owner, ownerName string) (*model.FileLock, error)

	// Heartbeat extends the lock TTL if the owner holds the lock.
	Heartbeat(ctx context.Context, fileID, owner string) (*model.FileLock, error)

	// Release removes the lock if the owner holds it.
	Release(ctx context.Context, fileID, owner string) error

	// ForceRelease removes the lock regardless of owner. Administrative
	// use only.
	ForceRelease(ctx context.Context, fileID string) error

	// Status returns the current lock, or nil when the file is unlocked
	// or the lock has expired.
	Status(ctx context.Context, fileID string) (*model.FileLock, error)
}
