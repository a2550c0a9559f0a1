// Package coordinator translates document lifecycle events from the host
// editor into remote lock operations and user notifications. It keeps no
// lock state of its own between an open and the matching close; the backend
// is always queried fresh.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cadvault/drivelock/internal/notify"
	"github.com/cadvault/drivelock/internal/remote"
)

// Outcome classifies how an event was handled.
type Outcome string

const (
	// OutcomeSkipped: import/merge open, untracked extension, or empty path.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNotTracked: the backend does not know the file.
	OutcomeNotTracked Outcome = "not_tracked"
	// OutcomeLockRequested: lock acquisition was handed to a background worker.
	OutcomeLockRequested Outcome = "lock_requested"
	// OutcomeLockHeld: another workstation holds the lock.
	OutcomeLockHeld Outcome = "lock_held"
	// OutcomeUnlockRequested: unlock and sync were handed to a background worker.
	OutcomeUnlockRequested Outcome = "unlock_requested"
	// OutcomeError: the event could not be handled; the error is logged,
	// never propagated to the host.
	OutcomeError Outcome = "error"
)

// Result reports how an event was handled. Errors are carried here for
// observability; nothing ever propagates to the host boundary.
type Result struct {
	Outcome Outcome
	Err     error
}

// Failed reports whether handling ended in an error.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeError
}

// Options configures a Coordinator.
type Options struct {
	// SetReadOnly toggles the local read-only attribute while a file is
	// locked by another workstation.
	SetReadOnly bool

	// TrackedExtensions lists the native document extensions handled on
	// open (e.g. ".3dm", ".gh"). Lowercase, leading dot.
	TrackedExtensions []string
}

// Coordinator reacts to document open/close events.
type Coordinator struct {
	remote      remote.Client
	notifier    notify.Notifier
	setReadOnly bool
	extensions  map[string]bool

	// Background lock/unlock work is serialized per path so a quick
	// close-then-reopen of the same document cannot interleave its
	// unlock+sync with the next acquisition.
	gatesMu sync.Mutex
	gates   map[string]*sync.Mutex

	wg sync.WaitGroup
}

// New creates a Coordinator.
func New(client remote.Client, notifier notify.Notifier, opts Options) *Coordinator {
	exts := make(map[string]bool, len(opts.TrackedExtensions))
	for _, e := range opts.TrackedExtensions {
		exts[strings.ToLower(e)] = true
	}
	return &Coordinator{
		remote:      client,
		notifier:    notifier,
		setReadOnly: opts.SetReadOnly,
		extensions:  exts,
		gates:       make(map[string]*sync.Mutex),
	}
}

// OnFileOpened handles a document-open event. imported marks opens that are
// really import/merge operations, which are ignored.
func (c *Coordinator) OnFileOpened(ctx context.Context, path string, imported bool) Result {
	return c.guard("open", path, func() Result {
		if path == "" || imported || !c.tracksExtension(path) {
			return Result{Outcome: OutcomeSkipped}
		}

		tracked, err := c.remote.Contains(ctx, path)
		if err != nil {
			return c.fail("open", path, fmt.Errorf("contains check: %w", err))
		}
		if !tracked {
			log.Printf("coordinator: %q is not on the managed drive, ignoring", path)
			return Result{Outcome: OutcomeNotTracked}
		}

		lockedByOther, err := c.remote.IsLockedByOther(ctx, path)
		if err != nil {
			return c.fail("open", path, fmt.Errorf("lock status check: %w", err))
		}

		name := filepath.Base(path)
		if lockedByOther {
			info, err := c.remote.GetFileInfo(ctx, path)
			if err != nil {
				return c.fail("open", path, fmt.Errorf("lock info fetch: %w", err))
			}
			if c.setReadOnly {
				if err := setReadOnlyAttr(path, true); err != nil {
					log.Printf("coordinator: failed to set %q read-only: %v", path, err)
				}
			}
			conflict := notify.Conflict{File: name}
			if info != nil {
				conflict.Owner = info.OwnerName
				if conflict.Owner == "" {
					conflict.Owner = info.Owner
				}
				conflict.LockedAt = info.LockedSince()
			}
			c.notifier.Conflict(conflict)
			return Result{Outcome: OutcomeLockHeld}
		}

		// Acquisition can be slow; run it off the event goroutine. A
		// failure here is logged only and never blocks the open.
		c.background(path, func(ctx context.Context) {
			acquired, err := c.remote.LockFile(ctx, path)
			if err != nil {
				log.Printf("coordinator: failed to lock %q: %v", path, err)
				return
			}
			if !acquired {
				log.Printf("coordinator: lock on %q taken by another workstation", path)
				return
			}
			c.notifier.Info(fmt.Sprintf("Locked %q", name))
		})
		return Result{Outcome: OutcomeLockRequested}
	})
}

// OnFileClosed handles a document-close event. An empty path means the
// document was never saved and there is nothing to do.
func (c *Coordinator) OnFileClosed(ctx context.Context, path string) Result {
	return c.guard("close", path, func() Result {
		if path == "" {
			return Result{Outcome: OutcomeSkipped}
		}

		tracked, err := c.remote.Contains(ctx, path)
		if err != nil {
			return c.fail("close", path, fmt.Errorf("contains check: %w", err))
		}
		if !tracked {
			log.Printf("coordinator: %q is not on the managed drive, ignoring", path)
			return Result{Outcome: OutcomeNotTracked}
		}

		lockedByOther, err := c.remote.IsLockedByOther(ctx, path)
		if err != nil {
			return c.fail("close", path, fmt.Errorf("lock status check: %w", err))
		}

		if lockedByOther {
			// The file was never ours: leave the lock alone and just
			// restore the local attribute.
			if c.setReadOnly {
				if err := setReadOnlyAttr(path, false); err != nil {
					log.Printf("coordinator: failed to clear read-only on %q: %v", path, err)
				}
			}
			return Result{Outcome: OutcomeLockHeld}
		}

		name := filepath.Base(path)
		c.background(path, func(ctx context.Context) {
			released, err := c.remote.UnlockFile(ctx, path)
			if err != nil {
				log.Printf("coordinator: failed to unlock %q: %v", path, err)
			} else if !released {
				log.Printf("coordinator: lock on %q was not held by this workstation", path)
			}
			if err := c.remote.SyncFile(ctx, path, true); err != nil {
				log.Printf("coordinator: failed to sync %q: %v", path, err)
				return
			}
			c.notifier.Info(fmt.Sprintf("UnLocked %q", name))
		})
		return Result{Outcome: OutcomeUnlockRequested}
	})
}

// Wait blocks until all background lock/unlock work has drained. Called on
// shutdown and by tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) tracksExtension(path string) bool {
	return c.extensions[strings.ToLower(filepath.Ext(path))]
}

func (c *Coordinator) fail(op, path string, err error) Result {
	log.Printf("coordinator: %s %q: %v", op, path, err)
	return Result{Outcome: OutcomeError, Err: err}
}

// guard runs fn and converts a panic into an error Result. The host event
// loop must never see a failure from this package.
func (c *Coordinator) guard(op, path string, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = c.fail(op, path, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// background runs fn on its own goroutine, serialized per path. The event
// context may die with the host callback, so the work gets a fresh one.
func (c *Coordinator) background(path string, fn func(ctx context.Context)) {
	gate := c.gate(path)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		gate.Lock()
		defer gate.Unlock()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("coordinator: background work for %q panicked: %v", path, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Coordinator) gate(path string) *sync.Mutex {
	c.gatesMu.Lock()
	defer c.gatesMu.Unlock()
	g, ok := c.gates[path]
	if !ok {
		g = &sync.Mutex{}
		c.gates[path] = g
	}
	return g
}
