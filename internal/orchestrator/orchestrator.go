// Package orchestrator turns claimed render jobs into finished MP4s. It
// stages inputs from the origin into a per-job workspace, supervises the
// external renderer child and finalizes outputs into the outbox.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/media"
	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
)

// Orchestrator owns the render stage of the pipeline.
type Orchestrator struct {
	store    *store.Store
	origin   origin.Origin
	layout   *storage.Layout
	ffmpeg   *media.FFmpeg
	cfg      *config.Config
	policies config.Policies
	logger   *slog.Logger
	workerID string

	// stableInterval is the pause between input-size samples.
	stableInterval time.Duration
}

// New creates an Orchestrator bound to one worker identity.
func New(st *store.Store, org origin.Origin, layout *storage.Layout, ffmpeg *media.FFmpeg,
	cfg *config.Config, policies config.Policies, logger *slog.Logger, workerID string) *Orchestrator {
	return &Orchestrator{
		store:          st,
		origin:         org,
		layout:         layout,
		ffmpeg:         ffmpeg,
		cfg:            cfg,
		policies:       policies,
		logger:         logger,
		workerID:       workerID,
		stableInterval: 2 * time.Second,
	}
}

// Cycle reclaims stale leases, claims at most one job and renders it to
// completion. A nil return with no work done is the idle case.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	reclaimed, err := o.store.ReclaimStale(ctx, o.cfg.LockTTL(), o.cfg.MaxRenderAttempts, o.cfg.RetryBackoff())
	if err != nil {
		return fmt.Errorf("reclaim stale: %w", err)
	}
	if reclaimed > 0 {
		o.logger.Info("reclaimed stale jobs", "count", reclaimed)
	}

	job, err := o.store.ClaimJob(ctx, lifecycle.StateReadyForRender, o.workerID, o.cfg.LockTTL())
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return nil
	}

	o.logger.Info("job claimed", "job_id", job.ID, "attempt", job.Attempt)
	if err := o.runJob(ctx, job); err != nil {
		return fmt.Errorf("job %d: %w", job.ID, err)
	}
	return nil
}

func (o *Orchestrator) runJob(ctx context.Context, job *store.Job) error {
	if err := o.store.TransitionFrom(ctx, job.ID, lifecycle.StateFetchingInputs, lifecycle.StateReadyForRender); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.abandonCancelled(ctx, job.ID, "cancelled before fetch")
		}
		return err
	}

	bundle, err := o.store.GetBundle(ctx, job.ID)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("load bundle: %w", err))
	}

	inputs, err := o.store.ListJobInputs(ctx, job.ID)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("load inputs: %w", err))
	}
	tracks, background, cover := splitInputs(inputs)
	if len(tracks) == 0 || background == nil {
		return o.fail(ctx, job, errors.New("missing inputs"))
	}

	ws, err := o.stage(ctx, job.ID, bundle, tracks, background)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("stage inputs: %w", err))
	}

	if o.cancelRequested(ctx, job.ID, ws) {
		return o.abandonCancelled(ctx, job.ID, "cancelled during staging")
	}

	if err := o.store.TransitionFrom(ctx, job.ID, lifecycle.StateRendering, lifecycle.StateFetchingInputs); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.abandonCancelled(ctx, job.ID, "cancelled before render")
		}
		return err
	}

	if err := o.runRenderer(ctx, job.ID, ws); err != nil {
		var fatal *fatalRenderError
		switch {
		case errors.Is(err, errRenderCancelled):
			return o.abandonCancelled(ctx, job.ID, "cancelled during render")
		case errors.As(err, &fatal):
			return o.failTerminal(ctx, job, fatal.Error())
		default:
			return o.fail(ctx, job, err)
		}
	}

	if err := o.finalize(ctx, job.ID, ws, cover); err != nil {
		return o.fail(ctx, job, fmt.Errorf("finalize: %w", err))
	}

	if err := o.store.FinishToState(ctx, job.ID, lifecycle.StateQARunning); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.abandonCancelled(ctx, job.ID, "cancelled at handoff")
		}
		return err
	}
	o.logger.Info("render complete", "job_id", job.ID)
	return nil
}

// stage rebuilds the workspace from scratch and pulls every input from the
// origin. Remote inputs are first waited on until their reported size stops
// moving, so a half-uploaded track never reaches the renderer.
func (o *Orchestrator) stage(ctx context.Context, jobID int64, bundle *store.Bundle,
	tracks []store.JobInput, background *store.JobInput) (*storage.Workspace, error) {

	for _, in := range append(append([]store.JobInput{}, tracks...), *background) {
		if err := o.waitInputStable(ctx, in.Asset); err != nil {
			return nil, err
		}
	}

	ws, err := o.layout.NewWorkspace(jobID, bundle.Channel.DisplayName)
	if err != nil {
		return nil, err
	}

	trackIDs := make([]string, 0, len(tracks))
	for idx, in := range tracks {
		name := storage.TrackFileName(idx+1, trackTitle(in.Asset))
		if err := o.fetchAsset(ctx, in.Asset, filepath.Join(ws.AudioDir(), name)); err != nil {
			return nil, err
		}
		trackIDs = append(trackIDs, storage.TrackIDFor(idx+1))
	}

	bgName := storage.SanitizeName(assetBase(background.Asset)) + path.Ext(assetName(background.Asset))
	if err := o.fetchAsset(ctx, background.Asset, filepath.Join(ws.ImagesDir(), bgName)); err != nil {
		return nil, err
	}

	if err := ws.WritePlaylist(bundle.Release.Title, trackIDs, bgName); err != nil {
		return nil, err
	}
	return ws, nil
}

// waitInputStable polls the origin until two consecutive size samples agree.
// Local files settle immediately; remote objects may still be uploading.
func (o *Orchestrator) waitInputStable(ctx context.Context, asset store.Asset) error {
	if asset.OriginID == "" {
		return nil
	}
	const samples = 5
	var lastSize int64 = -1
	for i := 0; i < samples; i++ {
		entry, err := o.origin.Stat(ctx, asset.OriginID)
		if err != nil {
			return fmt.Errorf("stat input %s: %w", asset.OriginID, err)
		}
		if entry.Size == lastSize {
			return nil
		}
		lastSize = entry.Size
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.stableInterval):
		}
	}
	return fmt.Errorf("input %s still growing", asset.OriginID)
}

func (o *Orchestrator) fetchAsset(ctx context.Context, asset store.Asset, dst string) error {
	if asset.OriginID != "" {
		return o.origin.FetchTo(ctx, asset.OriginID, dst)
	}
	return copyFile(asset.LocalPath, dst)
}

// finalize moves the newest render into the outbox, cuts the preview and
// registers both outputs.
func (o *Orchestrator) finalize(ctx context.Context, jobID int64, ws *storage.Workspace, cover *store.JobInput) error {
	rendered, err := ws.NewestReleaseMP4()
	if err != nil {
		return err
	}

	outPath := o.layout.OutboxMP4(jobID)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}
	if err := os.Rename(rendered, outPath); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		if err := copyFile(rendered, outPath); err != nil {
			return fmt.Errorf("move render: %w", err)
		}
		_ = os.Remove(rendered)
	}

	if cover != nil {
		coverDst := filepath.Join(o.layout.OutboxCoverDir(jobID), assetName(cover.Asset))
		if err := o.fetchAsset(ctx, cover.Asset, coverDst); err != nil {
			o.logger.Warn("cover staging failed", "job_id", jobID, "error", err)
		}
	}

	previewPath := o.layout.PreviewPath(jobID)
	pv := o.policies.Preview
	if err := o.ffmpeg.CutPreview(ctx, outPath, previewPath, media.PreviewSpec{
		Seconds:      pv.Seconds,
		Width:        pv.Width,
		Height:       pv.Height,
		FPS:          pv.FPS,
		VideoBitrate: pv.VideoBitrate,
		AudioBitrate: pv.AudioBitrate,
	}); err != nil {
		return fmt.Errorf("cut preview: %w", err)
	}

	mp4ID, err := o.store.EnsureAsset(ctx, store.Asset{Kind: store.AssetMP4, LocalPath: outPath, OriginID: outPath})
	if err != nil {
		return err
	}
	if err := o.store.LinkJobOutput(ctx, jobID, mp4ID, store.RoleMP4); err != nil {
		return err
	}
	previewID, err := o.store.EnsureAsset(ctx, store.Asset{Kind: store.AssetPreview60, LocalPath: previewPath, OriginID: previewPath})
	if err != nil {
		return err
	}
	return o.store.LinkJobOutput(ctx, jobID, previewID, store.RolePreview60)
}

// fail applies the retry policy and logs the resulting state.
func (o *Orchestrator) fail(ctx context.Context, job *store.Job, cause error) error {
	reason := fmt.Sprintf("attempt %d: %v", job.Attempt+1, cause)
	state, err := o.store.RetryOrFail(ctx, job.ID, lifecycle.StageRender,
		o.cfg.MaxRenderAttempts, o.cfg.RetryBackoff(), reason)
	if err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}
	o.logger.Error("render attempt failed", "job_id", job.ID, "next_state", state, "reason", reason)
	return nil
}

// failTerminal fails the job without consuming the retry budget.
func (o *Orchestrator) failTerminal(ctx context.Context, job *store.Job, reason string) error {
	state, err := o.store.RetryOrFail(ctx, job.ID, lifecycle.StageRender, 0, o.cfg.RetryBackoff(), reason)
	if err != nil {
		return fmt.Errorf("terminal fail: %w", err)
	}
	o.logger.Error("render failed terminally", "job_id", job.ID, "state", state, "reason", reason)
	return nil
}

// abandonCancelled converges a cancelled job: the row is already CANCELLED or
// a marker asked for it; either way the lock is released and no failure state
// is written.
func (o *Orchestrator) abandonCancelled(ctx context.Context, jobID int64, note string) error {
	if err := o.store.CancelJob(ctx, jobID, note); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	if err := o.store.ReleaseLock(ctx, jobID, o.workerID); err != nil {
		return err
	}
	o.logger.Info("job cancelled", "job_id", jobID, "note", note)
	return nil
}

func splitInputs(inputs []store.JobInput) (tracks []store.JobInput, background, cover *store.JobInput) {
	for i := range inputs {
		in := inputs[i]
		switch in.Role {
		case store.RoleTrack:
			tracks = append(tracks, in)
		case store.RoleBackground:
			if background == nil {
				background = &inputs[i]
			}
		case store.RoleCover:
			if cover == nil {
				cover = &inputs[i]
			}
		}
	}
	// A cover can stand in when no explicit background exists.
	if background == nil {
		background = cover
	}
	return tracks, background, cover
}

func assetName(a store.Asset) string {
	if a.OriginID != "" {
		return path.Base(filepath.ToSlash(a.OriginID))
	}
	return filepath.Base(a.LocalPath)
}

func assetBase(a store.Asset) string {
	name := assetName(a)
	return name[:len(name)-len(path.Ext(name))]
}

func trackTitle(a store.Asset) string {
	return assetBase(a)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - paths come from the store
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 - destination is inside managed storage
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
