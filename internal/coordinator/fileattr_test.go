package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadvault/drivelock/internal/model"
)

func TestSetReadOnlyAttr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.3dm")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	require.NoError(t, setReadOnlyAttr(path, true))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&0200, "owner write bit should be cleared")

	require.NoError(t, setReadOnlyAttr(path, false))
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0200, "owner write bit should be restored")
}

func TestSetReadOnlyAttr_MissingFile(t *testing.T) {
	assert.Error(t, setReadOnlyAttr("/nonexistent/model.3dm", true))
}

func TestConflictBranch_TogglesReadOnlyWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.3dm")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	co, mock, _ := newTestCoordinator(Options{SetReadOnly: true})
	ctx := context.Background()
	mock.Tracked[path] = true
	mock.Locks[path] = &model.FileLock{FileID: path, Owner: "ws-other", OwnerName: "alice"}

	co.OnFileOpened(ctx, path, false)
	co.Wait()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&0200, "conflicted file should be read-only")

	co.OnFileClosed(ctx, path)
	co.Wait()

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0200, "read-only should be cleared on close")
}

func TestConflictBranch_LeavesAttrAloneWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.3dm")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	co, mock, _ := newTestCoordinator(Options{SetReadOnly: false})
	mock.Tracked[path] = true
	mock.Locks[path] = &model.FileLock{FileID: path, Owner: "ws-other"}

	co.OnFileOpened(context.Background(), path, false)
	co.Wait()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0200, "attribute must not change when the toggle is off")
}
