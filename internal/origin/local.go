package origin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local is the filesystem origin backend rooted at a configured directory.
// Object ids are absolute paths.
type Local struct {
	root string
}

// NewLocal creates a Local origin rooted at root.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve origin root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("origin root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("origin root %s is not a directory", abs)
	}
	return &Local{root: abs}, nil
}

// Name identifies the backend.
func (l *Local) Name() string {
	return "local"
}

// ChannelFolder resolves channels/<slug>.
func (l *Local) ChannelFolder(_ context.Context, slug string) (*Entry, error) {
	dir := filepath.Join(l.root, "channels", slug)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("channel %s: %w", slug, ErrNotExist)
	}
	return &Entry{ID: dir, Name: slug, IsDir: true}, nil
}

// ListChannelIncoming returns the release folders awaiting import.
func (l *Local) ListChannelIncoming(ctx context.Context, slug string) ([]Entry, error) {
	dir := filepath.Join(l.root, "channels", slug, "incoming")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, nil
	}
	entries, err := l.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var folders []Entry
	for _, e := range entries {
		if e.IsDir {
			folders = append(folders, e)
		}
	}
	return folders, nil
}

// List returns the direct children of a folder.
func (l *Local) List(_ context.Context, folderID string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(folderID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("list %s: %w", folderID, ErrNotExist)
		}
		return nil, fmt.Errorf("list %s: %w", folderID, err)
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := Entry{
			ID:    filepath.Join(folderID, de.Name()),
			Name:  de.Name(),
			IsDir: de.IsDir(),
		}
		if !de.IsDir() {
			if info, err := de.Info(); err == nil {
				e.Size = info.Size()
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// FindFolder returns the child folder with the given name, case-insensitively.
func (l *Local) FindFolder(ctx context.Context, parentID, name string) (*Entry, error) {
	return l.findChild(ctx, parentID, name, true)
}

// FindFile returns the child file with the given name, case-insensitively.
func (l *Local) FindFile(ctx context.Context, parentID, name string) (*Entry, error) {
	return l.findChild(ctx, parentID, name, false)
}

func (l *Local) findChild(ctx context.Context, parentID, name string, wantDir bool) (*Entry, error) {
	entries, err := l.List(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir == wantDir && strings.EqualFold(e.Name, name) {
			found := e
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%s in %s: %w", name, parentID, ErrNotExist)
}

// EnumerateTree returns every file underneath a folder, recursively.
func (l *Local) EnumerateTree(_ context.Context, folderID string) ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(folderID, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		e := Entry{ID: path, Name: d.Name()}
		if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("enumerate %s: %w", folderID, ErrNotExist)
		}
		return nil, fmt.Errorf("enumerate %s: %w", folderID, err)
	}
	return out, nil
}

// ReadText returns the content of a text file.
func (l *Local) ReadText(_ context.Context, id string) (string, error) {
	data, err := os.ReadFile(id) // #nosec G304 - ids come from origin listings
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("read %s: %w", id, ErrNotExist)
		}
		return "", fmt.Errorf("read %s: %w", id, err)
	}
	return string(data), nil
}

// FetchTo copies the file into localPath.
func (l *Local) FetchTo(_ context.Context, id, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("create fetch dir: %w", err)
	}
	src, err := os.Open(id) // #nosec G304 - ids come from origin listings
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("fetch %s: %w", id, ErrNotExist)
		}
		return fmt.Errorf("fetch %s: %w", id, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 - destination is inside the workspace
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy %s: %w", id, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}

// Stat returns the current entry for a path.
func (l *Local) Stat(_ context.Context, id string) (*Entry, error) {
	info, err := os.Stat(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", id, ErrNotExist)
		}
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}
	return &Entry{ID: id, Name: info.Name(), IsDir: info.IsDir(), Size: info.Size()}, nil
}

// Compile-time interface check.
var _ Origin = (*Local)(nil)
