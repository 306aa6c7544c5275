package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// playlistStatusSeed is the Status value PlayLists.txt starts with. The
// renderer flips it to "Done" on completion; only the renderer reads it back.
const playlistStatusSeed = "Not done"

// cancelMarkerName is the presence-only file that requests cooperative
// cancellation of a running render.
const cancelMarkerName = ".cancel"

// Workspace is the per-job directory tree handed to the external renderer.
// The renderer expects a fixed shape under YouTubeRoot/<channel display>:
// Audio/ with ordered wav files, Images/ with the background, and an empty
// Release/ it writes the MP4 into.
type Workspace struct {
	// Dir is the workspace root, <storage>/workspace/job_<id>.
	Dir string
	// ChannelDir is YouTubeRoot/<channel display> inside Dir.
	ChannelDir string
}

// NewWorkspace recreates the workspace tree for a job. Any prior attempt's
// data is removed first so retries never see stale intermediates.
func (l *Layout) NewWorkspace(jobID int64, channelDisplay string) (*Workspace, error) {
	dir := l.WorkspaceDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("reset workspace: %w", err)
	}

	channelDir := filepath.Join(dir, "YouTubeRoot", SanitizeName(channelDisplay))
	for _, sub := range []string{"Audio", "Images", "Release"} {
		if err := os.MkdirAll(filepath.Join(channelDir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
	}

	return &Workspace{Dir: dir, ChannelDir: channelDir}, nil
}

// OpenWorkspace returns the workspace of an existing job without recreating
// it, or an error when it does not exist.
func (l *Layout) OpenWorkspace(jobID int64) (*Workspace, error) {
	dir := l.WorkspaceDir(jobID)
	rootDir := filepath.Join(dir, "YouTubeRoot")
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			return &Workspace{Dir: dir, ChannelDir: filepath.Join(rootDir, e.Name())}, nil
		}
	}
	return nil, fmt.Errorf("open workspace: no channel dir under %s", rootDir)
}

// AudioDir returns the ordered-track directory.
func (w *Workspace) AudioDir() string {
	return filepath.Join(w.ChannelDir, "Audio")
}

// ImagesDir returns the background-image directory.
func (w *Workspace) ImagesDir() string {
	return filepath.Join(w.ChannelDir, "Images")
}

// ReleaseDir returns the directory the renderer writes the MP4 into.
func (w *Workspace) ReleaseDir() string {
	return filepath.Join(w.ChannelDir, "Release")
}

// PlaylistPath returns the path of the PlayLists.txt control file.
func (w *Workspace) PlaylistPath() string {
	return filepath.Join(w.ChannelDir, "PlayLists.txt")
}

// CancelMarkerPath returns the path of the cancellation marker file.
func (w *Workspace) CancelMarkerPath() string {
	return filepath.Join(w.ChannelDir, cancelMarkerName)
}

// WritePlaylist writes PlayLists.txt describing the ordered track ids and
// the background image the renderer should use.
func (w *Workspace) WritePlaylist(title string, trackIDs []string, background string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", title, strings.Join(trackIDs, " "))
	fmt.Fprintf(&b, "Image: %s\n", background)
	fmt.Fprintf(&b, "Status: %s\n", playlistStatusSeed)

	if err := os.WriteFile(w.PlaylistPath(), []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	return nil
}

// RequestCancel drops the cancellation marker into the workspace.
func (w *Workspace) RequestCancel() error {
	if err := os.WriteFile(w.CancelMarkerPath(), nil, 0o600); err != nil {
		return fmt.Errorf("write cancel marker: %w", err)
	}
	return nil
}

// CancelRequested reports whether the cancellation marker exists.
func (w *Workspace) CancelRequested() bool {
	_, err := os.Stat(w.CancelMarkerPath())
	return err == nil
}

// NewestReleaseMP4 returns the most recently modified *.mp4 under Release/,
// or an error when the renderer produced none.
func (w *Workspace) NewestReleaseMP4() (string, error) {
	entries, err := os.ReadDir(w.ReleaseDir())
	if err != nil {
		return "", fmt.Errorf("read release dir: %w", err)
	}
	var newest string
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().UnixNano() > newestMod {
			newest = filepath.Join(w.ReleaseDir(), e.Name())
			newestMod = info.ModTime().UnixNano()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no mp4 under %s", w.ReleaseDir())
	}
	return newest, nil
}

// ReleaseOutputBytes sums the sizes of every MP4 under Release/ together
// with in-flight partials (.tmp, .part siblings). The growth watchdog samples
// this total to detect stalled renders.
func (w *Workspace) ReleaseOutputBytes() int64 {
	entries, err := os.ReadDir(w.ReleaseDir())
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if !strings.HasSuffix(name, ".mp4") &&
			!strings.HasSuffix(name, ".mp4.tmp") &&
			!strings.HasSuffix(name, ".mp4.part") &&
			!strings.HasSuffix(name, ".tmp") &&
			!strings.HasSuffix(name, ".part") {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}
