package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
)

// Uploader owns the upload stage.
type Uploader struct {
	store    *store.Store
	layout   *storage.Layout
	backend  Backend
	cfg      *config.Config
	logger   *slog.Logger
	workerID string
}

// New creates an Uploader bound to one worker identity.
func New(st *store.Store, layout *storage.Layout, backend Backend,
	cfg *config.Config, logger *slog.Logger, workerID string) *Uploader {
	return &Uploader{
		store:    st,
		layout:   layout,
		backend:  backend,
		cfg:      cfg,
		logger:   logger,
		workerID: workerID,
	}
}

// Cycle claims at most one job in UPLOADING and delivers it. Idempotency
// comes first: a job that already has a video id moves on without a second
// upload.
func (u *Uploader) Cycle(ctx context.Context) error {
	job, err := u.store.ClaimJob(ctx, lifecycle.StateUploading, u.workerID, u.cfg.LockTTL())
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return nil
	}

	existing, err := u.store.GetUpload(ctx, job.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("job %d upload record: %w", job.ID, err)
	}
	if existing != nil && existing.VideoID != "" {
		u.logger.Info("upload already recorded", "job_id", job.ID, "video_id", existing.VideoID)
		return u.advance(ctx, job.ID)
	}

	mp4 := u.layout.OutboxMP4(job.ID)
	if _, err := os.Stat(mp4); err != nil {
		return u.fail(ctx, job, fmt.Errorf("mp4 missing at %s", mp4))
	}

	bundle, err := u.store.GetBundle(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("job %d bundle: %w", job.ID, err)
	}

	result, err := u.backend.Upload(ctx, Request{
		ChannelSlug: bundle.Channel.Slug,
		Title:       bundle.Release.Title,
		Description: bundle.Release.Description,
		Tags:        bundle.Release.Tags,
		MP4Path:     mp4,
		CoverPath:   u.coverPath(job.ID),
	})
	if err != nil {
		var credErr *CredentialsError
		if errors.As(err, &credErr) {
			return u.failTerminal(ctx, job, credErr)
		}
		return u.fail(ctx, job, err)
	}

	now := u.nowUnixPtr()
	if err := u.store.SetUpload(ctx, store.Upload{
		JobID:      job.ID,
		VideoID:    result.VideoID,
		URL:        result.URL,
		EditURL:    result.EditURL,
		Privacy:    result.Privacy,
		UploadedAt: now,
	}); err != nil {
		return fmt.Errorf("job %d record upload: %w", job.ID, err)
	}

	u.logger.Info("upload complete",
		"job_id", job.ID, "backend", u.backend.Name(), "video_id", result.VideoID)
	return u.advance(ctx, job.ID)
}

func (u *Uploader) advance(ctx context.Context, jobID int64) error {
	if err := u.store.FinishToState(ctx, jobID, lifecycle.StateWaitApproval); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return fmt.Errorf("job %d advance: %w", jobID, err)
	}
	return nil
}

// coverPath returns the first staged cover file, if any.
func (u *Uploader) coverPath(jobID int64) string {
	entries, err := os.ReadDir(u.layout.OutboxCoverDir(jobID))
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			return filepath.Join(u.layout.OutboxCoverDir(jobID), e.Name())
		}
	}
	return ""
}

// fail applies the retry policy for an operational failure.
func (u *Uploader) fail(ctx context.Context, job *store.Job, cause error) error {
	reason := fmt.Sprintf("attempt %d: %v", job.Attempt+1, cause)
	if err := u.store.SetUploadError(ctx, job.ID, reason); err != nil {
		u.logger.Warn("upload error not recorded", "job_id", job.ID, "error", err)
	}
	state, err := u.store.RetryOrFail(ctx, job.ID, lifecycle.StageUpload,
		u.cfg.MaxUploadAttempts, u.cfg.RetryBackoff(), reason)
	if err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}
	u.logger.Error("upload attempt failed", "job_id", job.ID, "next_state", state, "reason", reason)
	return nil
}

// failTerminal marks the job UPLOAD_FAILED without consuming the retry
// budget; credential problems do not heal by retrying.
func (u *Uploader) failTerminal(ctx context.Context, job *store.Job, cause error) error {
	reason := cause.Error()
	if err := u.store.SetUploadError(ctx, job.ID, reason); err != nil {
		u.logger.Warn("upload error not recorded", "job_id", job.ID, "error", err)
	}
	if _, err := u.store.RetryOrFail(ctx, job.ID, lifecycle.StageUpload, 0, u.cfg.RetryBackoff(), reason); err != nil {
		return fmt.Errorf("terminal fail: %w", err)
	}
	u.logger.Error("upload failed terminally", "job_id", job.ID, "reason", reason)
	return nil
}

func (u *Uploader) nowUnixPtr() *float64 {
	now := u.store.NowUnix()
	return &now
}
