// Package storage owns the on-disk layout under the factory storage root:
// per-job workspaces handed to the renderer, the outbox holding finished
// MP4s, preview files, QA report blobs and per-job log files.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves every per-job path under the storage root. It is shared by
// the orchestrator, QA gate, uploader and cleanup workers.
type Layout struct {
	root string
}

// NewLayout creates the base directories under root and returns a Layout.
func NewLayout(root string) (*Layout, error) {
	l := &Layout{root: root}
	for _, dir := range []string{
		root,
		filepath.Join(root, "workspace"),
		filepath.Join(root, "outbox"),
		filepath.Join(root, "previews"),
		filepath.Join(root, "qa"),
		filepath.Join(root, "logs"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return l, nil
}

// Root returns the storage root directory.
func (l *Layout) Root() string {
	return l.root
}

// WorkspaceDir returns the per-job scratch directory.
func (l *Layout) WorkspaceDir(jobID int64) string {
	return filepath.Join(l.root, "workspace", fmt.Sprintf("job_%d", jobID))
}

// OutboxDir returns the per-job output directory.
func (l *Layout) OutboxDir(jobID int64) string {
	return filepath.Join(l.root, "outbox", fmt.Sprintf("job_%d", jobID))
}

// OutboxMP4 returns the canonical path of the finished render.
func (l *Layout) OutboxMP4(jobID int64) string {
	return filepath.Join(l.OutboxDir(jobID), "render.mp4")
}

// OutboxCoverDir returns the optional staged-cover directory in the outbox.
func (l *Layout) OutboxCoverDir(jobID int64) string {
	return filepath.Join(l.OutboxDir(jobID), "cover")
}

// PreviewPath returns the path of the short approval preview.
func (l *Layout) PreviewPath(jobID int64) string {
	return filepath.Join(l.root, "previews", fmt.Sprintf("job_%d_preview60.mp4", jobID))
}

// QAReportPath returns the path of the persisted QA report blob.
func (l *Layout) QAReportPath(jobID int64) string {
	return filepath.Join(l.root, "qa", fmt.Sprintf("job_%d.json", jobID))
}

// JobLogPath returns the path of the per-job log file.
func (l *Layout) JobLogPath(jobID int64) string {
	return filepath.Join(l.root, "logs", fmt.Sprintf("job_%d.log", jobID))
}

// RemoveWorkspace deletes the per-job workspace tree. Missing workspaces are
// not an error.
func (l *Layout) RemoveWorkspace(jobID int64) error {
	if err := os.RemoveAll(l.WorkspaceDir(jobID)); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// ListWorkspaceJobIDs returns the job ids that currently have a workspace
// directory, parsed from the job_<id> naming convention.
func (l *Layout) ListWorkspaceJobIDs() ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, "workspace"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace dir: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(e.Name(), "job_%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
