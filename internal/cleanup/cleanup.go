// Package cleanup reclaims disk space: stale workspaces go right away,
// published MP4s go once their retention window has elapsed.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
)

// Cleaner owns the retention stage.
type Cleaner struct {
	store  *store.Store
	layout *storage.Layout
	logger *slog.Logger
}

// New creates a Cleaner.
func New(st *store.Store, layout *storage.Layout, logger *slog.Logger) *Cleaner {
	return &Cleaner{store: st, layout: layout, logger: logger}
}

// Cycle removes workspaces of jobs no longer being rendered, then deletes the
// outbox artifacts of published jobs whose delete-at has passed. Upload
// records, QA reports and logs stay.
func (c *Cleaner) Cycle(ctx context.Context) error {
	if err := c.sweepWorkspaces(ctx); err != nil {
		return err
	}
	return c.sweepRetention(ctx)
}

func (c *Cleaner) sweepWorkspaces(ctx context.Context) error {
	ids, err := c.layout.ListWorkspaceJobIDs()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	activeIDs, err := c.store.ListJobsInStates(ctx, lifecycle.StateFetchingInputs, lifecycle.StateRendering)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	active := make(map[int64]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	for _, id := range ids {
		if _, busy := active[id]; busy {
			continue
		}
		if err := c.layout.RemoveWorkspace(id); err != nil {
			c.logger.Warn("workspace removal failed", "job_id", id, "error", err)
			continue
		}
		c.logger.Info("workspace removed", "job_id", id)
	}
	return nil
}

func (c *Cleaner) sweepRetention(ctx context.Context) error {
	due, err := c.store.ListJobsDue(ctx)
	if err != nil {
		return fmt.Errorf("list due jobs: %w", err)
	}

	for _, job := range due {
		if err := removeIfPresent(c.layout.OutboxMP4(job.ID)); err != nil {
			c.logger.Warn("mp4 removal failed", "job_id", job.ID, "error", err)
			continue
		}
		if err := removeIfPresent(c.layout.PreviewPath(job.ID)); err != nil {
			c.logger.Warn("preview removal failed", "job_id", job.ID, "error", err)
		}

		if err := c.store.TransitionFrom(ctx, job.ID, lifecycle.StateCleaned, lifecycle.StatePublished); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return fmt.Errorf("job %d to cleaned: %w", job.ID, err)
		}
		c.logger.Info("retention applied", "job_id", job.ID)
	}
	return nil
}

func removeIfPresent(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
