package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/media"
	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
)

// happyRenderer emits progress and drops a render into the Release folder.
const happyRenderer = `#!/bin/sh
ws="$1"
rel=$(find "$ws" -type d -name Release | head -n 1)
echo "5 %"
echo "encoding pass 1"
echo "50 %"
echo "100 %"
dd if=/dev/zero of="$rel/final.mp4" bs=1024 count=64 2>/dev/null
`

// fatalRenderer reports a broken asset and exits nonzero.
const fatalRenderer = `#!/bin/sh
echo "3 %"
echo "FATAL_IMAGE_INVALID: background.png is truncated"
exit 1
`

// crashRenderer fails without a fatal marker.
const crashRenderer = `#!/bin/sh
echo "1 %"
exit 1
`

// stubFFmpeg creates its last argument so preview cutting succeeds.
const stubFFmpeg = `#!/bin/sh
for last; do :; done
: > "$last"
`

type testRig struct {
	orch   *Orchestrator
	store  *store.Store
	layout *storage.Layout
	root   string
	jobID  int64
}

func newRig(t *testing.T, rendererScript string) *testRig {
	t.Helper()
	ctx := context.Background()

	binDir := t.TempDir()
	writeScript(t, filepath.Join(binDir, "renderer"), rendererScript)
	writeScript(t, filepath.Join(binDir, "ffmpeg"), stubFFmpeg)

	st, err := store.Open(filepath.Join(t.TempDir(), "factory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	storageRoot := t.TempDir()
	layout, err := storage.NewLayout(storageRoot)
	require.NoError(t, err)

	originRoot := t.TempDir()
	org, err := origin.NewLocal(originRoot)
	require.NoError(t, err)

	chID, err := st.UpsertChannel(ctx, store.Channel{Slug: "lofi", DisplayName: "Lofi Nights"})
	require.NoError(t, err)
	relID, err := st.CreateRelease(ctx, store.Release{
		ChannelID: chID, Title: "Midnight Tapes", OriginMetaKey: "meta-1",
	})
	require.NoError(t, err)
	jobID, err := st.CreateJob(ctx, relID, lifecycle.StateReadyForRender, 100)
	require.NoError(t, err)

	link := func(name string, kind store.AssetKind, role string, order int) {
		p := filepath.Join(originRoot, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte("data"), 0o600))
		assetID, err := st.EnsureAsset(ctx, store.Asset{Kind: kind, Origin: "local", OriginID: p})
		require.NoError(t, err)
		require.NoError(t, st.LinkJobInput(ctx, jobID, assetID, role, order))
	}
	link("audio/intro take.wav", store.AssetAudio, store.RoleTrack, 0)
	link("audio/outro.wav", store.AssetAudio, store.RoleTrack, 1)
	link("images/skyline.png", store.AssetImage, store.RoleBackground, 0)
	link("images/cover.png", store.AssetImage, store.RoleCover, 0)

	cfg := &config.Config{
		StorageRoot:           storageRoot,
		RendererBin:           filepath.Join(binDir, "renderer"),
		FFmpegBin:             filepath.Join(binDir, "ffmpeg"),
		JobLockTTLSec:         3600,
		RetryBackoffSec:       300,
		MaxRenderAttempts:     3,
		WatchdogIdleSec:       300,
		WatchdogGraceSec:      600,
		WatchdogMinDeltaBytes: 65536,
		WatchdogKillAfterSec:  1,
	}
	policies := config.DefaultPolicies()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	orch := New(st, org, layout, media.NewFFmpeg(cfg.FFmpegBin), cfg, policies, logger, "orch-test")
	orch.stableInterval = time.Millisecond
	return &testRig{orch: orch, store: st, layout: layout, root: originRoot, jobID: jobID}
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700)) // #nosec G306
}

func TestCycle_RendersJobToQARunning(t *testing.T) {
	rig := newRig(t, happyRenderer)
	ctx := context.Background()

	require.NoError(t, rig.orch.Cycle(ctx))

	job, err := rig.store.GetJob(ctx, rig.jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateQARunning, job.State)
	assert.Nil(t, job.LockedBy)
	assert.Nil(t, job.RetryAt)

	assert.FileExists(t, rig.layout.OutboxMP4(rig.jobID))
	assert.FileExists(t, rig.layout.PreviewPath(rig.jobID))

	outputs, err := rig.store.ListJobOutputs(ctx, rig.jobID)
	require.NoError(t, err)
	roles := make([]string, 0, len(outputs))
	for _, out := range outputs {
		roles = append(roles, out.Role)
	}
	assert.ElementsMatch(t, []string{store.RoleMP4, store.RolePreview60}, roles)

	// The staged workspace uses normalized track names and the playlist file.
	ws, err := rig.layout.OpenWorkspace(rig.jobID)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(ws.AudioDir(), "001_intro_take.wav"))
	assert.FileExists(t, filepath.Join(ws.AudioDir(), "002_outro.wav"))
	playlist, err := os.ReadFile(ws.PlaylistPath())
	require.NoError(t, err)
	assert.Contains(t, string(playlist), "Midnight Tapes: 001 002")
	assert.Contains(t, string(playlist), "Image: skyline.png")
}

func TestCycle_FatalAssetErrorFailsWithoutRetry(t *testing.T) {
	rig := newRig(t, fatalRenderer)
	ctx := context.Background()

	require.NoError(t, rig.orch.Cycle(ctx))

	job, err := rig.store.GetJob(ctx, rig.jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRenderFailed, job.State)
	assert.Nil(t, job.RetryAt)
	require.NotNil(t, job.ErrorReason)
	assert.Contains(t, *job.ErrorReason, "FATAL_IMAGE_INVALID")
}

func TestCycle_CrashSchedulesRetry(t *testing.T) {
	rig := newRig(t, crashRenderer)
	ctx := context.Background()

	require.NoError(t, rig.orch.Cycle(ctx))

	job, err := rig.store.GetJob(ctx, rig.jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReadyForRender, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.NotNil(t, job.RetryAt)
	assert.Nil(t, job.LockedBy)
}

func TestCycle_CancelledBeforeFetchNeverFails(t *testing.T) {
	rig := newRig(t, happyRenderer)
	ctx := context.Background()

	job, err := rig.store.ClaimJob(ctx, lifecycle.StateReadyForRender, "orch-test", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, rig.store.CancelJob(ctx, job.ID, "operator cancel"))

	require.NoError(t, rig.orch.runJob(ctx, job))

	got, err := rig.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCancelled, got.State)
	assert.Nil(t, got.LockedBy)
}

func TestCycle_MissingInputsGoThroughRetryPolicy(t *testing.T) {
	rig := newRig(t, happyRenderer)
	ctx := context.Background()

	// A second job with no inputs at all.
	relID, err := rig.store.CreateRelease(ctx, store.Release{
		ChannelID: 1, Title: "Empty", OriginMetaKey: "meta-2",
	})
	require.NoError(t, err)
	emptyJob, err := rig.store.CreateJob(ctx, relID, lifecycle.StateReadyForRender, 200)
	require.NoError(t, err)

	// Higher priority, so the cycle picks the empty job first.
	require.NoError(t, rig.orch.Cycle(ctx))

	job, err := rig.store.GetJob(ctx, emptyJob)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReadyForRender, job.State)
	assert.Equal(t, 1, job.Attempt)
	require.NotNil(t, job.ErrorReason)
	assert.Contains(t, *job.ErrorReason, "missing inputs")
}

func TestSplitInputs_CoverFallsBackAsBackground(t *testing.T) {
	inputs := []store.JobInput{
		{Role: store.RoleTrack, OrderIdx: 0, Asset: store.Asset{ID: 1}},
		{Role: store.RoleCover, Asset: store.Asset{ID: 2}},
	}

	tracks, background, cover := splitInputs(inputs)
	require.Len(t, tracks, 1)
	require.NotNil(t, background)
	require.NotNil(t, cover)
	assert.Equal(t, int64(2), background.Asset.ID)
}

func TestAssetNameHelpers(t *testing.T) {
	a := store.Asset{OriginID: "/origin/audio/intro take.wav"}
	assert.Equal(t, "intro take.wav", assetName(a))
	assert.Equal(t, "intro take", assetBase(a))
	assert.Equal(t, fmt.Sprintf("%03d_intro_take.wav", 1), storage.TrackFileName(1, assetBase(a)))
}
