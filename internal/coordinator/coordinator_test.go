package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadvault/drivelock/internal/model"
	"github.com/cadvault/drivelock/internal/notify"
	"github.com/cadvault/drivelock/internal/remote"
)

// recorder is a race-safe Notifier capturing everything emitted.
type recorder struct {
	mu        sync.Mutex
	infos     []string
	conflicts []notify.Conflict
}

func (r *recorder) Info(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, message)
}

func (r *recorder) Conflict(c notify.Conflict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, c)
}

func (r *recorder) Infos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.infos...)
}

func (r *recorder) Conflicts() []notify.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Conflict(nil), r.conflicts...)
}

func newTestCoordinator(opts Options) (*Coordinator, *remote.Mock, *recorder) {
	mock := remote.NewMock("ws-self")
	rec := &recorder{}
	if opts.TrackedExtensions == nil {
		opts.TrackedExtensions = []string{".3dm", ".gh", ".ghx"}
	}
	return New(mock, rec, opts), mock, rec
}

const docPath = "/docs/model.3dm"

func TestOpen_UntrackedFile_NoLockCalls(t *testing.T) {
	co, mock, rec := newTestCoordinator(Options{})
	ctx := context.Background()

	res := co.OnFileOpened(ctx, docPath, false)
	co.Wait()

	assert.Equal(t, OutcomeNotTracked, res.Outcome)
	assert.Equal(t, 0, mock.CallCount("LockFile"))
	assert.Equal(t, 0, mock.CallCount("UnlockFile"))
	assert.Equal(t, 0, mock.CallCount("SyncFile"))
	assert.Empty(t, rec.Infos())
}

func TestOpen_TrackedAndUnlocked_LocksOnce(t *testing.T) {
	co, mock, rec := newTestCoordinator(Options{})
	ctx := context.Background()
	mock.Tracked[docPath] = true

	res := co.OnFileOpened(ctx, docPath, false)
	co.Wait()

	assert.Equal(t, OutcomeLockRequested, res.Outcome)
	assert.Equal(t, 1, mock.CallCount("LockFile"))
	require.Len(t, rec.Infos(), 1)
	assert.Equal(t, `Locked "model.3dm"`, rec.Infos()[0])
	assert.Empty(t, rec.Conflicts())
}

func TestOpen_LockedByOther_ConflictDialog(t *testing.T) {
	co, mock, rec := newTestCoordinator(Options{})
	ctx := context.Background()
	lockedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.Tracked[docPath] = true
	mock.Locks[docPath] = &model.FileLock{
		FileID:     docPath,
		Owner:      "ws-other",
		OwnerName:  "alice",
		AcquiredAt: lockedAt.Unix(),
	}

	res := co.OnFileOpened(ctx, docPath, false)
	co.Wait()

	assert.Equal(t, OutcomeLockHeld, res.Outcome)
	assert.Equal(t, 0, mock.CallCount("LockFile"))
	require.Len(t, rec.Conflicts(), 1)
	conflict := rec.Conflicts()[0]
	assert.Equal(t, "model.3dm", conflict.File)
	assert.Equal(t, "alice", conflict.Owner)
	assert.True(t, conflict.LockedAt.Equal(lockedAt))
	assert.Empty(t, rec.Infos())
}

func TestOpen_SkipConditions(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		imported bool
	}{
		{"import/merge open", docPath, true},
		{"untracked extension", "/docs/readme.txt", false},
		{"empty path", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co, mock, _ := newTestCoordinator(Options{})
			res := co.OnFileOpened(context.Background(), tt.path, tt.imported)
			co.Wait()

			assert.Equal(t, OutcomeSkipped, res.Outcome)
			assert.Empty(t, mock.Calls(), "skip must not touch the backend")
		})
	}
}

func TestClose_Unlocked_UnlocksThenForceSyncs(t *testing.T) {
	co, mock, rec := newTestCoordinator(Options{})
	ctx := context.Background()
	mock.Tracked[docPath] = true
	mock.Locks[docPath] = &model.FileLock{FileID: docPath, Owner: "ws-self"}

	res := co.OnFileClosed(ctx, docPath)
	co.Wait()

	assert.Equal(t, OutcomeUnlockRequested, res.Outcome)
	assert.Equal(t, 1, mock.CallCount("UnlockFile"))
	assert.Equal(t, 1, mock.CallCount("SyncFile"))

	// Unlock precedes the forced sync.
	calls := mock.Calls()
	var unlockIdx, syncIdx int
	for i, c := range calls {
		switch c {
		case fmt.Sprintf("UnlockFile(%s)", docPath):
			unlockIdx = i
		case fmt.Sprintf("SyncFile(%s,force=true)", docPath):
			syncIdx = i
		}
	}
	assert.Less(t, unlockIdx, syncIdx, "unlock must happen before sync: %v", calls)

	require.Len(t, rec.Infos(), 1)
	assert.Equal(t, `UnLocked "model.3dm"`, rec.Infos()[0])
}

func TestClose_LockedByOther_LeavesLockAlone(t *testing.T) {
	co, mock, rec := newTestCoordinator(Options{})
	ctx := context.Background()
	mock.Tracked[docPath] = true
	mock.Locks[docPath] = &model.FileLock{FileID: docPath, Owner: "ws-other", OwnerName: "alice"}

	res := co.OnFileClosed(ctx, docPath)
	co.Wait()

	assert.Equal(t, OutcomeLockHeld, res.Outcome)
	assert.Equal(t, 0, mock.CallCount("UnlockFile"))
	assert.Equal(t, 0, mock.CallCount("SyncFile"))
	assert.Empty(t, rec.Infos())
}

func TestClose_UntrackedFile_NoCalls(t *testing.T) {
	co, mock, _ := newTestCoordinator(Options{})

	res := co.OnFileClosed(context.Background(), docPath)
	co.Wait()

	assert.Equal(t, OutcomeNotTracked, res.Outcome)
	assert.Equal(t, 0, mock.CallCount("UnlockFile"))
	assert.Equal(t, 0, mock.CallCount("SyncFile"))
}

func TestClose_EmptyPath_NeverSavedDocument(t *testing.T) {
	co, mock, _ := newTestCoordinator(Options{})

	res := co.OnFileClosed(context.Background(), "")
	co.Wait()

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, mock.Calls())
}

func TestOpen_RemoteError_CapturedNotPropagated(t *testing.T) {
	co, mock, _ := newTestCoordinator(Options{})
	mock.FailWith = errors.New("backend unreachable")
	mock.Tracked[docPath] = true

	res := co.OnFileOpened(context.Background(), docPath, false)
	co.Wait()

	assert.True(t, res.Failed())
	assert.Error(t, res.Err)
}

func TestClose_RemoteError_CapturedNotPropagated(t *testing.T) {
	co, mock, _ := newTestCoordinator(Options{})
	mock.FailWith = errors.New("backend unreachable")

	res := co.OnFileClosed(context.Background(), docPath)
	co.Wait()

	assert.True(t, res.Failed())
	assert.Error(t, res.Err)
}

// panicNotifier stands in for a host dialog surface that blows up.
type panicNotifier struct{}

func (panicNotifier) Info(string)             { panic("dialog surface gone") }
func (panicNotifier) Conflict(notify.Conflict) { panic("dialog surface gone") }

func TestOpen_PanicInNotifier_Recovered(t *testing.T) {
	mock := remote.NewMock("ws-self")
	mock.Tracked[docPath] = true
	mock.Locks[docPath] = &model.FileLock{FileID: docPath, Owner: "ws-other", OwnerName: "alice"}
	co := New(mock, panicNotifier{}, Options{TrackedExtensions: []string{".3dm"}})

	var res Result
	assert.NotPanics(t, func() {
		res = co.OnFileOpened(context.Background(), docPath, false)
	})
	co.Wait()
	assert.True(t, res.Failed())
}

func TestBackgroundWork_SerializedPerPath(t *testing.T) {
	co, mock, _ := newTestCoordinator(Options{})
	ctx := context.Background()
	mock.Tracked[docPath] = true

	// A burst of opens on one path must all drain without deadlock and
	// without losing calls.
	for i := 0; i < 8; i++ {
		co.OnFileOpened(ctx, docPath, false)
	}
	co.Wait()

	assert.Equal(t, 8, mock.CallCount("LockFile"))
}
