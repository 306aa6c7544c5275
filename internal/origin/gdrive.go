package origin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// driveFolderMIME is the Drive MIME type marking folders.
const driveFolderMIME = "application/vnd.google-apps.folder"

// Drive is the Google Drive origin backend rooted at a folder id. Object ids
// are Drive file ids.
type Drive struct {
	svc    *drive.Service
	rootID string
}

// NewDrive creates a Drive origin. credentialsPath points at a service
// account key file; rootID is the folder the channels/ tree lives under.
func NewDrive(ctx context.Context, credentialsPath, rootID string) (*Drive, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Drive{svc: svc, rootID: rootID}, nil
}

// Name identifies the backend.
func (d *Drive) Name() string {
	return "gdrive"
}

// ChannelFolder resolves channels/<slug> under the configured root.
func (d *Drive) ChannelFolder(ctx context.Context, slug string) (*Entry, error) {
	channels, err := d.FindFolder(ctx, d.rootID, "channels")
	if err != nil {
		return nil, err
	}
	return d.FindFolder(ctx, channels.ID, slug)
}

// ListChannelIncoming returns the release folders awaiting import.
func (d *Drive) ListChannelIncoming(ctx context.Context, slug string) ([]Entry, error) {
	channel, err := d.ChannelFolder(ctx, slug)
	if err != nil {
		return nil, nil
	}
	incoming, err := d.FindFolder(ctx, channel.ID, "incoming")
	if err != nil {
		return nil, nil
	}
	entries, err := d.List(ctx, incoming.ID)
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
func (d *Drive) List(ctx context.Context, folderID string) ([]Entry, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", escapeDriveQuery(folderID))

	var out []Entry
	pageToken := ""
	for {
		call := d.svc.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, mimeType, size)").
			PageSize(1000).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("drive list %s: %w", folderID, err)
		}
		for _, f := range res.Files {
			out = append(out, Entry{
				ID:    f.Id,
				Name:  f.Name,
				IsDir: f.MimeType == driveFolderMIME,
				Size:  f.Size,
			})
		}
		if res.NextPageToken == "" {
			return out, nil
		}
		pageToken = res.NextPageToken
	}
}

// FindFolder returns the child folder with the given name, case-insensitively.
func (d *Drive) FindFolder(ctx context.Context, parentID, name string) (*Entry, error) {
	return d.findChild(ctx, parentID, name, true)
}

// FindFile returns the child file with the given name, case-insensitively.
func (d *Drive) FindFile(ctx context.Context, parentID, name string) (*Entry, error) {
	return d.findChild(ctx, parentID, name, false)
}

func (d *Drive) findChild(ctx context.Context, parentID, name string, wantDir bool) (*Entry, error) {
	entries, err := d.List(ctx, parentID)
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
func (d *Drive) EnumerateTree(ctx context.Context, folderID string) ([]Entry, error) {
	entries, err := d.List(ctx, folderID)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.IsDir {
			sub, err := d.EnumerateTree(ctx, e.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadText downloads a small text object.
func (d *Drive) ReadText(ctx context.Context, id string) (string, error) {
	res, err := d.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("drive download %s: %w", id, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("drive read %s: %w", id, err)
	}
	return string(data), nil
}

// FetchTo downloads an object into localPath.
func (d *Drive) FetchTo(ctx context.Context, id, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("create fetch dir: %w", err)
	}
	res, err := d.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("drive download %s: %w", id, err)
	}
	defer func() { _ = res.Body.Close() }()

	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 - destination is inside the workspace
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, res.Body); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy %s: %w", id, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}

// Stat returns the current entry for a file id.
func (d *Drive) Stat(ctx context.Context, id string) (*Entry, error) {
	f, err := d.svc.Files.Get(id).Fields("id, name, mimeType, size").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("drive stat %s: %w", id, err)
	}
	return &Entry{ID: f.Id, Name: f.Name, IsDir: f.MimeType == driveFolderMIME, Size: f.Size}, nil
}

// escapeDriveQuery escapes single quotes for Drive query strings.
func escapeDriveQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// Compile-time interface check.
var _ Origin = (*Drive)(nil)
