// Package trackcatalog maintains the per-channel index of numbered audio
// tracks. Workers consume scan jobs from a small secondary queue and walk the
// channel's Audio tree in the origin.
package trackcatalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/store"
)

// trackFile matches catalog names like 001_midnight_walk.wav.
var trackFile = regexp.MustCompile(`^(\d{3})_(.+)\.wav$`)

// Cataloger owns the track discovery stage.
type Cataloger struct {
	store    *store.Store
	origin   origin.Origin
	cfg      *config.Config
	logger   *slog.Logger
	workerID string
}

// New creates a Cataloger bound to one worker identity.
func New(st *store.Store, org origin.Origin, cfg *config.Config, logger *slog.Logger, workerID string) *Cataloger {
	return &Cataloger{store: st, origin: org, cfg: cfg, logger: logger, workerID: workerID}
}

// EnqueueAll queues a catalog scan for every known channel. The approval API
// calls this on demand; workers then drain the queue.
func (c *Cataloger) EnqueueAll(ctx context.Context) (int, error) {
	channels, err := c.store.ListChannels(ctx)
	if err != nil {
		return 0, err
	}
	for _, ch := range channels {
		if _, err := c.store.CreateTrackJob(ctx, ch.ID, 100); err != nil {
			return 0, fmt.Errorf("enqueue scan for %s: %w", ch.Slug, err)
		}
	}
	return len(channels), nil
}

// Cycle claims at most one scan job and indexes its channel.
func (c *Cataloger) Cycle(ctx context.Context) error {
	job, err := c.store.ClaimTrackJob(ctx, c.workerID, c.cfg.LockTTL())
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return nil
	}

	count, err := c.scanChannel(ctx, job.ChannelID)
	if err != nil {
		if ferr := c.store.FinishTrackJob(ctx, job.ID, store.TrackJobFailed, err.Error()); ferr != nil {
			return fmt.Errorf("finish failed scan: %w", ferr)
		}
		c.logger.Error("catalog scan failed", "track_job_id", job.ID, "error", err)
		return nil
	}

	if err := c.store.FinishTrackJob(ctx, job.ID, store.TrackJobDone, ""); err != nil {
		return fmt.Errorf("finish scan: %w", err)
	}
	c.logger.Info("catalog scan complete", "track_job_id", job.ID, "channel_id", job.ChannelID, "tracks", count)
	return nil
}

// scanChannel walks the channel's Audio tree and upserts every well-formed
// track file. Unnumbered files are skipped silently.
func (c *Cataloger) scanChannel(ctx context.Context, channelID int64) (int, error) {
	channel, err := c.store.GetChannelByID(ctx, channelID)
	if err != nil {
		return 0, err
	}

	channelFolder, err := c.origin.ChannelFolder(ctx, channel.Slug)
	if err != nil {
		return 0, err
	}
	audioFolder, err := c.origin.FindFolder(ctx, channelFolder.ID, "Audio")
	if err != nil {
		if errors.Is(err, origin.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	files, err := c.origin.EnumerateTree(ctx, audioFolder.ID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, f := range files {
		m := trackFile.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		track := store.Track{
			ChannelID: channelID,
			TrackNo:   m[1],
			Title:     titleFromFile(m[2]),
			FileName:  f.Name,
			OriginID:  f.ID,
		}
		if err := c.store.UpsertTrack(ctx, track); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// titleFromFile turns the sanitized file stem back into a readable title.
func titleFromFile(stem string) string {
	return strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))
}
