// Package importer scans the origin for new release folders and turns them
// into releases and render jobs.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/store"
)

// Importer drives one import pass per cycle. It is stateless between cycles;
// idempotency lives in the store.
type Importer struct {
	store  *store.Store
	origin origin.Origin
	logger *slog.Logger
}

// New creates an Importer.
func New(st *store.Store, org origin.Origin, logger *slog.Logger) *Importer {
	return &Importer{store: st, origin: org, logger: logger}
}

// Cycle scans every known channel's incoming folder once. Per-release errors
// are logged and skipped so one broken manifest never blocks a channel.
func (i *Importer) Cycle(ctx context.Context) error {
	channels, err := i.store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	for _, ch := range channels {
		if err := i.scanChannel(ctx, ch); err != nil {
			i.logger.Error("channel scan failed", "channel", ch.Slug, "error", err)
		}
	}
	return ctx.Err()
}

func (i *Importer) scanChannel(ctx context.Context, ch store.Channel) error {
	folders, err := i.origin.ListChannelIncoming(ctx, ch.Slug)
	if err != nil {
		return fmt.Errorf("list incoming: %w", err)
	}

	for _, folder := range folders {
		if err := i.importRelease(ctx, ch, folder); err != nil {
			i.logger.Error("release import failed",
				"channel", ch.Slug, "folder", folder.Name, "error", err)
		}
	}
	return nil
}

// importRelease imports one incoming folder. The meta.json object id is the
// uniqueness key, so re-scans of an unchanged origin are no-ops.
func (i *Importer) importRelease(ctx context.Context, ch store.Channel, folder origin.Entry) error {
	metaEntry, err := i.origin.FindFile(ctx, folder.ID, "meta.json")
	if err != nil {
		if errors.Is(err, origin.ErrNotExist) {
			i.logger.Warn("incoming folder without meta.json", "channel", ch.Slug, "folder", folder.Name)
			return nil
		}
		return err
	}

	existing, err := i.store.FindReleaseByMetaKey(ctx, ch.ID, metaEntry.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil {
		return i.promoteWaiting(ctx, ch, existing, folder, *metaEntry)
	}

	raw, err := i.origin.ReadText(ctx, metaEntry.ID)
	if err != nil {
		return fmt.Errorf("read meta.json: %w", err)
	}
	meta, err := ParseMeta(raw)
	if err != nil {
		return fmt.Errorf("parse meta.json: %w", err)
	}

	releaseID, err := i.store.CreateRelease(ctx, store.Release{
		ChannelID:     ch.ID,
		Title:         meta.Title,
		Description:   meta.Description,
		Tags:          meta.Tags,
		PlannedAt:     meta.PlannedUnix(),
		OriginMetaKey: metaEntry.ID,
	})
	if err != nil {
		return fmt.Errorf("create release: %w", err)
	}

	ready, err := i.hasRequiredFolders(ctx, folder.ID)
	if err != nil {
		return err
	}
	state := lifecycle.StateWaitingInputs
	if ready {
		state = lifecycle.StateReadyForRender
	}

	jobID, err := i.store.CreateJob(ctx, releaseID, state, 100)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	if ready {
		if err := i.attachInputs(ctx, jobID, folder.ID, meta); err != nil {
			return fmt.Errorf("attach inputs: %w", err)
		}
	}

	i.logger.Info("release imported",
		"channel", ch.Slug, "release_id", releaseID, "job_id", jobID, "state", state)
	return nil
}

// promoteWaiting re-checks an already imported release on re-scan. If its
// job still waits for inputs and the folders have since appeared, the inputs
// are attached and the job moves to READY_FOR_RENDER.
func (i *Importer) promoteWaiting(ctx context.Context, ch store.Channel, release *store.Release, folder, metaEntry origin.Entry) error {
	job, err := i.store.GetJobByRelease(ctx, release.ID)
	if err != nil {
		return err
	}
	if job.State != lifecycle.StateWaitingInputs {
		return nil
	}

	ready, err := i.hasRequiredFolders(ctx, folder.ID)
	if err != nil || !ready {
		return err
	}

	raw, err := i.origin.ReadText(ctx, metaEntry.ID)
	if err != nil {
		return err
	}
	meta, err := ParseMeta(raw)
	if err != nil {
		return fmt.Errorf("parse meta.json: %w", err)
	}
	if err := i.attachInputs(ctx, job.ID, folder.ID, meta); err != nil {
		return err
	}
	if err := i.store.TransitionFrom(ctx, job.ID, lifecycle.StateReadyForRender, lifecycle.StateWaitingInputs); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}
	i.logger.Info("waiting job promoted", "channel", ch.Slug, "job_id", job.ID)
	return nil
}

func (i *Importer) hasRequiredFolders(ctx context.Context, folderID string) (bool, error) {
	for _, name := range []string{"audio", "images"} {
		if _, err := i.origin.FindFolder(ctx, folderID, name); err != nil {
			if errors.Is(err, origin.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// attachInputs links track, background and cover assets to the job. Assets
// and links are deduplicated on origin id, so the pass is idempotent.
func (i *Importer) attachInputs(ctx context.Context, jobID int64, folderID string, meta *Meta) error {
	audioFolder, err := i.origin.FindFolder(ctx, folderID, "audio")
	if err != nil {
		return err
	}
	tracks, err := i.origin.EnumerateTree(ctx, audioFolder.ID)
	if err != nil {
		return err
	}
	ordered := orderTracks(tracks, meta.Assets.Audio)
	if len(ordered) == 0 {
		return fmt.Errorf("no audio tracks under %s", audioFolder.ID)
	}
	for idx, entry := range ordered {
		assetID, err := i.store.EnsureAsset(ctx, store.Asset{
			Kind:     store.AssetAudio,
			Origin:   i.origin.Name(),
			OriginID: entry.ID,
		})
		if err != nil {
			return err
		}
		if err := i.store.LinkJobInput(ctx, jobID, assetID, store.RoleTrack, idx); err != nil {
			return err
		}
	}

	imagesFolder, err := i.origin.FindFolder(ctx, folderID, "images")
	if err != nil {
		return err
	}
	images, err := i.origin.List(ctx, imagesFolder.ID)
	if err != nil {
		return err
	}
	coverName := path.Base(meta.Assets.Cover)
	for _, img := range images {
		if img.IsDir || !isImageFile(img.Name) {
			continue
		}
		role := store.RoleBackground
		if coverName != "" && strings.EqualFold(img.Name, coverName) {
			role = store.RoleCover
		}
		assetID, err := i.store.EnsureAsset(ctx, store.Asset{
			Kind:     store.AssetImage,
			Origin:   i.origin.Name(),
			OriginID: img.ID,
		})
		if err != nil {
			return err
		}
		if err := i.store.LinkJobInput(ctx, jobID, assetID, role, 0); err != nil {
			return err
		}
	}
	return nil
}

// orderTracks sorts the discovered audio files into release order. When the
// manifest lists relative paths their order wins; everything else follows by
// name.
func orderTracks(entries []origin.Entry, manifestOrder []string) []origin.Entry {
	wavs := make([]origin.Entry, 0, len(entries))
	for _, e := range entries {
		if strings.EqualFold(path.Ext(e.Name), ".wav") {
			wavs = append(wavs, e)
		}
	}

	rank := make(map[string]int, len(manifestOrder))
	for idx, rel := range manifestOrder {
		rank[strings.ToLower(path.Base(rel))] = idx
	}
	sort.SliceStable(wavs, func(a, b int) bool {
		ra, oka := rank[strings.ToLower(wavs[a].Name)]
		rb, okb := rank[strings.ToLower(wavs[b].Name)]
		switch {
		case oka && okb:
			return ra < rb
		case oka:
			return true
		case okb:
			return false
		default:
			return wavs[a].Name < wavs[b].Name
		}
	})
	return wavs
}

func isImageFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp":
		return true
	}
	return false
}
