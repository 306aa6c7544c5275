package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
)

type rig struct {
	cleaner *Cleaner
	store   *store.Store
	layout  *storage.Layout
	now     *time.Time
}

func newRig(t *testing.T) *rig {
	t.Helper()

	now := time.Now()
	st, err := store.Open(filepath.Join(t.TempDir(), "factory.db"),
		store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return &rig{cleaner: New(st, layout, logger), store: st, layout: layout, now: &now}
}

func (r *rig) newJob(t *testing.T, state lifecycle.State, metaKey string) int64 {
	t.Helper()
	ctx := context.Background()
	chID, err := r.store.UpsertChannel(ctx, store.Channel{Slug: "lofi", DisplayName: "Lofi Nights"})
	require.NoError(t, err)
	relID, err := r.store.CreateRelease(ctx, store.Release{ChannelID: chID, Title: "Vol", OriginMetaKey: metaKey})
	require.NoError(t, err)
	jobID, err := r.store.CreateJob(ctx, relID, state, 100)
	require.NoError(t, err)
	return jobID
}

func (r *rig) touchOutbox(t *testing.T, jobID int64) {
	t.Helper()
	mp4 := r.layout.OutboxMP4(jobID)
	require.NoError(t, os.MkdirAll(filepath.Dir(mp4), 0o750))
	require.NoError(t, os.WriteFile(mp4, []byte("mp4"), 0o600))
	require.NoError(t, os.WriteFile(r.layout.PreviewPath(jobID), []byte("pv"), 0o600))
}

func TestCycle_RemovesWorkspacesOfIdleJobs(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	idle := r.newJob(t, lifecycle.StateWaitApproval, "m1")
	busy := r.newJob(t, lifecycle.StateRendering, "m2")
	_, err := r.layout.NewWorkspace(idle, "Lofi Nights")
	require.NoError(t, err)
	_, err = r.layout.NewWorkspace(busy, "Lofi Nights")
	require.NoError(t, err)

	require.NoError(t, r.cleaner.Cycle(ctx))

	assert.NoDirExists(t, r.layout.WorkspaceDir(idle))
	assert.DirExists(t, r.layout.WorkspaceDir(busy))
}

func TestCycle_RetentionDeletesArtifactsAfterWindow(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	jobID := r.newJob(t, lifecycle.StateWaitApproval, "m1")
	r.touchOutbox(t, jobID)

	deleteAt, err := r.store.MarkPublished(ctx, jobID, 48*time.Hour)
	require.NoError(t, err)

	// Still inside the retention window: nothing happens.
	require.NoError(t, r.cleaner.Cycle(ctx))
	assert.FileExists(t, r.layout.OutboxMP4(jobID))
	job, err := r.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatePublished, job.State)

	// Window elapses.
	*r.now = deleteAt.Add(time.Minute)
	require.NoError(t, r.cleaner.Cycle(ctx))

	assert.NoFileExists(t, r.layout.OutboxMP4(jobID))
	assert.NoFileExists(t, r.layout.PreviewPath(jobID))
	job, err = r.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCleaned, job.State)

	// Reports and logs survive cleanup.
	require.NoError(t, os.WriteFile(r.layout.QAReportPath(jobID), []byte("{}"), 0o600))
	require.NoError(t, r.cleaner.Cycle(ctx))
	assert.FileExists(t, r.layout.QAReportPath(jobID))
}

func TestCycle_MissingArtifactsStillClean(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	jobID := r.newJob(t, lifecycle.StateWaitApproval, "m1")
	deleteAt, err := r.store.MarkPublished(ctx, jobID, time.Hour)
	require.NoError(t, err)
	*r.now = deleteAt.Add(time.Second)

	require.NoError(t, r.cleaner.Cycle(ctx))

	job, err := r.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCleaned, job.State)
}
