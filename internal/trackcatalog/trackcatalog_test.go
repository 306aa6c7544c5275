package trackcatalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/store"
)

type rig struct {
	cat     *Cataloger
	store   *store.Store
	root    string
	channel int64
}

func newRig(t *testing.T) *rig {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "factory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	chID, err := st.UpsertChannel(context.Background(), store.Channel{
		Slug:        "lofi",
		DisplayName: "Lofi Nights",
	})
	require.NoError(t, err)

	root := t.TempDir()
	org, err := origin.NewLocal(root)
	require.NoError(t, err)

	cfg := &config.Config{JobLockTTLSec: 60}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return &rig{
		cat:     New(st, org, cfg, logger, "worker-test"),
		store:   st,
		root:    root,
		channel: chID,
	}
}

func (r *rig) writeAudio(t *testing.T, rel string) {
	t.Helper()
	path := filepath.Join(r.root, "channels", "lofi", "Audio", rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("wav"), 0o600))
}

func TestCycle_IndexesChannelAudio(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.writeAudio(t, "tapes/002_rainy_window.wav")
	r.writeAudio(t, "001_night_drive.wav")
	r.writeAudio(t, "notes.txt")
	r.writeAudio(t, "loose_take.wav")

	n, err := r.cat.EnqueueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.cat.Cycle(ctx))

	tracks, err := r.store.ListTracks(ctx, r.channel)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "001", tracks[0].TrackNo)
	assert.Equal(t, "night drive", tracks[0].Title)
	assert.Equal(t, "001_night_drive.wav", tracks[0].FileName)
	assert.NotEmpty(t, tracks[0].OriginID)
	assert.Equal(t, "002", tracks[1].TrackNo)
	assert.Equal(t, "rainy window", tracks[1].Title)
}

func TestCycle_RescanIsIdempotent(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.writeAudio(t, "001_night_drive.wav")

	for i := 0; i < 2; i++ {
		_, err := r.cat.EnqueueAll(ctx)
		require.NoError(t, err)
		require.NoError(t, r.cat.Cycle(ctx))
	}

	tracks, err := r.store.ListTracks(ctx, r.channel)
	require.NoError(t, err)
	assert.Len(t, tracks, 1)
}

func TestCycle_MissingAudioFolderCompletesEmpty(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(r.root, "channels", "lofi"), 0o750))

	_, err := r.cat.EnqueueAll(ctx)
	require.NoError(t, err)
	require.NoError(t, r.cat.Cycle(ctx))

	tracks, err := r.store.ListTracks(ctx, r.channel)
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestCycle_MissingChannelFolderFailsJob(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.store.CreateTrackJob(ctx, r.channel, 100)
	require.NoError(t, err)
	require.NoError(t, r.cat.Cycle(ctx))

	// The scan ended FAILED, so nothing is left to claim.
	job, err := r.store.ClaimTrackJob(ctx, "worker-test", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestCycle_NoPendingWork(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.cat.Cycle(context.Background()))
}

func TestTitleFromFile(t *testing.T) {
	assert.Equal(t, "night drive", titleFromFile("night_drive"))
	assert.Equal(t, "solo", titleFromFile("solo"))
}
