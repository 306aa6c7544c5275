// Package qa validates finished renders against the channel's render profile
// before anything is uploaded.
package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/media"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
)

// LoudnessMeter measures loudness over the leading window of a file.
// *media.FFmpeg satisfies it.
type LoudnessMeter interface {
	MeasureLoudness(ctx context.Context, src string, seconds int) (*media.Loudness, error)
}

// Gate owns the QA stage.
type Gate struct {
	store    *store.Store
	layout   *storage.Layout
	prober   media.Prober
	meter    LoudnessMeter
	cfg      *config.Config
	policies config.Policies
	logger   *slog.Logger
	workerID string
}

// New creates a Gate bound to one worker identity.
func New(st *store.Store, layout *storage.Layout, prober media.Prober, meter LoudnessMeter,
	cfg *config.Config, policies config.Policies, logger *slog.Logger, workerID string) *Gate {
	return &Gate{
		store:    st,
		layout:   layout,
		prober:   prober,
		meter:    meter,
		cfg:      cfg,
		policies: policies,
		logger:   logger,
		workerID: workerID,
	}
}

// Cycle claims at most one job awaiting QA and decides it.
func (g *Gate) Cycle(ctx context.Context) error {
	job, err := g.store.ClaimJob(ctx, lifecycle.StateQARunning, g.workerID, g.cfg.LockTTL())
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return nil
	}

	bundle, err := g.store.GetBundle(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("job %d bundle: %w", job.ID, err)
	}

	report := g.inspect(ctx, job.ID, bundle)
	if err := g.persist(ctx, job.ID, report); err != nil {
		return fmt.Errorf("job %d persist report: %w", job.ID, err)
	}

	if reason, blocked := g.decide(report); blocked {
		if _, err := g.store.RetryOrFail(ctx, job.ID, lifecycle.StageQA, 0, g.cfg.RetryBackoff(), reason); err != nil {
			return fmt.Errorf("job %d fail: %w", job.ID, err)
		}
		g.logger.Warn("qa blocked job", "job_id", job.ID, "reason", reason, "warnings", report.Warnings)
		return nil
	}

	if err := g.store.FinishToState(ctx, job.ID, lifecycle.StateUploading); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return fmt.Errorf("job %d advance: %w", job.ID, err)
	}
	g.logger.Info("qa passed", "job_id", job.ID, "warnings", len(report.Warnings))
	return nil
}

// inspect probes the render and collects hard failures and warnings. Hard
// failures short-circuit; warnings accumulate.
func (g *Gate) inspect(ctx context.Context, jobID int64, bundle *store.Bundle) *store.QAReport {
	report := &store.QAReport{JobID: jobID, HardOK: true}
	policy := g.policies.QA
	mp4 := g.layout.OutboxMP4(jobID)

	if _, err := os.Stat(mp4); err != nil {
		return hardFail(report, "missing mp4")
	}

	probe, err := g.prober.Probe(ctx, mp4)
	if err != nil {
		return hardFail(report, fmt.Sprintf("probe error: %v", err))
	}
	if probe.Video == nil {
		return hardFail(report, "no video stream")
	}
	if probe.Audio == nil {
		return hardFail(report, "no audio stream")
	}

	report.Width = &probe.Video.Width
	report.Height = &probe.Video.Height
	report.FPS = &probe.Video.FPS
	report.VideoCodec = &probe.Video.Codec
	report.AudioCodec = &probe.Audio.Codec
	report.SampleRate = &probe.Audio.SampleRate
	report.Channels = &probe.Audio.Channels
	report.DurationExpected = &probe.Audio.Duration
	report.DurationActual = &probe.Video.Duration

	if diff := math.Abs(probe.Video.Duration - probe.Audio.Duration); diff > policy.DurationDiffHardFailSec {
		return hardFail(report, fmt.Sprintf("duration drift %.2fs exceeds %.2fs", diff, policy.DurationDiffHardFailSec))
	}

	g.compareProfile(report, probe, bundle.Profile, policy)
	g.measureLoudness(ctx, report, mp4, policy)
	return report
}

// compareProfile collects warnings against the channel's render profile. A
// channel without a stored profile skips the comparison.
func (g *Gate) compareProfile(report *store.QAReport, probe *media.ProbeResult, profile store.RenderProfile, policy config.QAPolicy) {
	if profile.Width == 0 && profile.Height == 0 {
		report.Info = append(report.Info, "no render profile for channel, profile checks skipped")
		return
	}

	if math.Abs(probe.Video.FPS-profile.FPS) > policy.FPSTolerance {
		warn(report, "fps %.3f deviates from profile %.3f", probe.Video.FPS, profile.FPS)
	}
	if probe.Video.Width != profile.Width || probe.Video.Height != profile.Height {
		warn(report, "resolution %dx%d differs from profile %dx%d",
			probe.Video.Width, probe.Video.Height, profile.Width, profile.Height)
	}
	if profile.VideoCodec != "" && probe.Video.Codec != profile.VideoCodec {
		warn(report, "video codec %s differs from profile %s", probe.Video.Codec, profile.VideoCodec)
	}
	if profile.AudioCodec != "" && probe.Audio.Codec != profile.AudioCodec {
		warn(report, "audio codec %s differs from profile %s", probe.Audio.Codec, profile.AudioCodec)
	}
	if profile.AudioRate != 0 && probe.Audio.SampleRate != profile.AudioRate {
		warn(report, "sample rate %d differs from profile %d", probe.Audio.SampleRate, profile.AudioRate)
	}
	if profile.AudioChannels != 0 && probe.Audio.Channels != profile.AudioChannels {
		warn(report, "channel count %d differs from profile %d", probe.Audio.Channels, profile.AudioChannels)
	}
}

// measureLoudness checks the leading window for clipping and level problems.
// A measurement error is informational, not blocking.
func (g *Gate) measureLoudness(ctx context.Context, report *store.QAReport, mp4 string, policy config.QAPolicy) {
	loudness, err := g.meter.MeasureLoudness(ctx, mp4, g.cfg.QAVolumedetectSeconds)
	if err != nil {
		report.Info = append(report.Info, fmt.Sprintf("loudness not measured: %v", err))
		return
	}
	report.MeanVolumeDB = &loudness.MeanDB
	report.MaxVolumeDB = &loudness.MaxDB

	if loudness.MaxDB >= policy.WarnMaxDB {
		warn(report, "max volume %.1f dB risks clipping (limit %.1f dB)", loudness.MaxDB, policy.WarnMaxDB)
	}
	if loudness.MeanDB > policy.WarnMeanHighDB {
		warn(report, "mean volume %.1f dB above %.1f dB", loudness.MeanDB, policy.WarnMeanHighDB)
	}
	if loudness.MeanDB < policy.WarnMeanLowDB {
		warn(report, "mean volume %.1f dB below %.1f dB", loudness.MeanDB, policy.WarnMeanLowDB)
	}
}

// decide returns the blocking reason, if any.
func (g *Gate) decide(report *store.QAReport) (string, bool) {
	if !report.HardOK {
		reason := "QA blocked"
		if len(report.Info) > 0 {
			reason = report.Info[0]
		}
		return reason, true
	}
	if g.policies.QA.WarningBlocksPipeline && len(report.Warnings) > 0 {
		return fmt.Sprintf("QA blocked: %d warnings", len(report.Warnings)), true
	}
	return "", false
}

// persist writes the qa_reports row and the JSON blob next to the outbox.
func (g *Gate) persist(ctx context.Context, jobID int64, report *store.QAReport) error {
	if err := g.store.UpsertQAReport(ctx, *report); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(g.layout.QAReportPath(jobID), blob, 0o600)
}

// hardFail records the failure cause in Info and marks the report blocked.
func hardFail(report *store.QAReport, cause string) *store.QAReport {
	report.HardOK = false
	report.Info = append(report.Info, cause)
	return report
}

func warn(report *store.QAReport, format string, args ...any) {
	report.Warnings = append(report.Warnings, fmt.Sprintf(format, args...))
}
