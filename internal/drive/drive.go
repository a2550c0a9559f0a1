// Package drive talks to the managed drive (Google Drive). The agent only
// needs three operations: resolve a local file name to a managed file, read
// its metadata, and push local content up on close.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cadvault/drivelock/internal/model"
)

var (
	// ErrNotFound is returned when a file is not on the managed drive.
	ErrNotFound = errors.New("file not found on managed drive")

	// ErrPreconditionFailed is returned when an ETag mismatch occurs on push.
	ErrPreconditionFailed = errors.New("remote file changed since last sync")
)

const entryFields = "id, name, mimeType, modifiedTime, size, md5Checksum"

// Adapter implements managed-drive access for the agent.
type Adapter struct {
	service      *drive.Service
	BaseFolderID string
}

// NewAdapter creates a new Adapter. client must be an authenticated
// http.Client carrying the workstation's Drive credentials.
func NewAdapter(ctx context.Context, client *http.Client, baseFolderID string) (*Adapter, error) {
	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive client: %w", err)
	}
	return &Adapter{service: srv, BaseFolderID: baseFolderID}, nil
}

// Lookup resolves a local file path to its managed-drive entry by file name
// within the base folder. ErrNotFound when the drive has no such file.
func (a *Adapter) Lookup(ctx context.Context, path string) (*model.FileEntry, error) {
	name := filepath.Base(path)
	folder := a.BaseFolderID
	if folder == "" {
		folder = "root"
	}

	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), folder)
	r, err := a.service.Files.List().
		Q(q).
		Fields(googleapi.Field("files(" + entryFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to look up %q: %w", name, err)
	}
	if len(r.Files) == 0 {
		return nil, ErrNotFound
	}
	return toEntry(r.Files[0]), nil
}

// FileInfo returns the metadata of a managed file.
func (a *Adapter) FileInfo(ctx context.Context, fileID string) (*model.FileEntry, error) {
	f, err := a.service.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields(entryFields).
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unable to get file metadata: %w", err)
	}
	return toEntry(f), nil
}

// Push uploads local content to an existing managed file. A non-empty etag
// is sent as an If-Match guard; an empty etag forces the overwrite.
func (a *Adapter) Push(ctx context.Context, fileID string, content []byte, etag string) (*model.FileEntry, error) {
	call := a.service.Files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(content)).
		SupportsAllDrives(true).
		Fields(entryFields).
		Context(ctx)
	if etag != "" {
		call.Header().Set("If-Match", etag)
	}

	res, err := call.Do()
	if err != nil {
		if isPreconditionFailed(err) {
			return nil, ErrPreconditionFailed
		}
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unable to push file: %w", err)
	}
	return toEntry(res), nil
}

func toEntry(f *drive.File) *model.FileEntry {
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return &model.FileEntry{
		ID:           f.Id,
		Name:         f.Name,
		ModifiedTime: modTime,
		Size:         f.Size,
		ETag:         f.Md5Checksum,
	}
}

// escapeQuery escapes a value for interpolation into a Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func isPreconditionFailed(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == 412
	}
	return false
}

func isNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == 404
	}
	return false
}
