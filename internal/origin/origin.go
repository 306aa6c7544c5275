// Package origin abstracts the external input system releases are imported
// from. Three backends share one semantics: a local filesystem tree, a Google
// Drive subtree and an S3 bucket prefix. Identifiers are backend-native (an
// absolute path, a Drive file id, an object key); callers treat them as
// opaque strings.
package origin

import (
	"context"
	"errors"
)

// ErrNotExist is returned when a folder or file does not exist in the origin.
var ErrNotExist = errors.New("origin: does not exist")

// Entry describes one object in the origin tree.
type Entry struct {
	// ID is the backend-native identifier of the object.
	ID string
	// Name is the base name within its parent folder.
	Name string
	// IsDir reports whether the entry is a folder.
	IsDir bool
	// Size is the object size in bytes; zero for folders.
	Size int64
}

// Origin is the read-only port the importer, orchestrator and preflight use.
type Origin interface {
	// Name identifies the backend ("local", "gdrive", "s3").
	Name() string

	// ChannelFolder resolves channels/<slug>, or ErrNotExist.
	ChannelFolder(ctx context.Context, slug string) (*Entry, error)

	// ListChannelIncoming returns the release folders under
	// channels/<slug>/incoming. A missing incoming folder yields an empty
	// slice, not an error.
	ListChannelIncoming(ctx context.Context, slug string) ([]Entry, error)

	// List returns the direct children of a folder.
	List(ctx context.Context, folderID string) ([]Entry, error)

	// FindFolder returns the child folder with the given name,
	// case-insensitively, or ErrNotExist.
	FindFolder(ctx context.Context, parentID, name string) (*Entry, error)

	// FindFile returns the child file with the given name,
	// case-insensitively, or ErrNotExist.
	FindFile(ctx context.Context, parentID, name string) (*Entry, error)

	// EnumerateTree returns every file underneath a folder, recursively.
	EnumerateTree(ctx context.Context, folderID string) ([]Entry, error)

	// ReadText returns the content of a small text object.
	ReadText(ctx context.Context, id string) (string, error)

	// FetchTo copies an object into a local file, creating parent dirs.
	FetchTo(ctx context.Context, id, localPath string) error

	// Stat returns the current entry for an object id. The orchestrator
	// polls this to wait for an uploading input to settle.
	Stat(ctx context.Context, id string) (*Entry, error)
}
