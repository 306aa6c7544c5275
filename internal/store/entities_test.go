package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castwave/release-factory/internal/lifecycle"
)

func TestUpsertChannel_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ytID := "UCabc123"
	id1, err := s.UpsertChannel(ctx, Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "hd24", YouTubeChannelID: &ytID})
	require.NoError(t, err)

	id2, err := s.UpsertChannel(ctx, Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie II", RenderProfile: "hd24", Autopublish: true, YouTubeChannelID: &ytID})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	ch, err := s.GetChannelBySlug(ctx, "darkwood-reverie")
	require.NoError(t, err)
	assert.Equal(t, "Darkwood Reverie II", ch.DisplayName)
	assert.True(t, ch.Autopublish)
	require.NotNil(t, ch.YouTubeChannelID)
	assert.Equal(t, "UCabc123", *ch.YouTubeChannelID)
}

func TestGetChannelBySlug_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetChannelBySlug(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenderProfile_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := RenderProfile{Name: "hd24", Width: 1920, Height: 1080, FPS: 24, VideoCodec: "h264", AudioRate: 48000, AudioChannels: 2, AudioCodec: "aac"}
	require.NoError(t, s.UpsertRenderProfile(ctx, p))

	got, err := s.GetRenderProfile(ctx, "hd24")
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	p.FPS = 25
	require.NoError(t, s.UpsertRenderProfile(ctx, p))
	got, err = s.GetRenderProfile(ctx, "hd24")
	require.NoError(t, err)
	assert.Equal(t, 25.0, got.FPS)
}

func TestRelease_MetaKeyUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chID, err := s.UpsertChannel(ctx, Channel{Slug: "ch", DisplayName: "Ch", RenderProfile: "default"})
	require.NoError(t, err)

	relID, err := s.CreateRelease(ctx, Release{ChannelID: chID, Title: "A", OriginMetaKey: "key-1", Tags: []string{"x", "y"}})
	require.NoError(t, err)

	_, err = s.CreateRelease(ctx, Release{ChannelID: chID, Title: "A again", OriginMetaKey: "key-1"})
	require.Error(t, err, "duplicate origin meta key must be rejected")

	found, err := s.FindReleaseByMetaKey(ctx, chID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, relID, found.ID)
	assert.Equal(t, []string{"x", "y"}, found.Tags)

	_, err = s.FindReleaseByMetaKey(ctx, chID, "key-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobInputs_LinkIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	relID := seedRelease(t, s, "ch")
	jobID := seedJob(t, s, relID, lifecycle.StateReadyForRender)

	audioID, err := s.CreateAsset(ctx, Asset{Kind: AssetAudio, Origin: "local", OriginID: "/origin/a.wav"})
	require.NoError(t, err)
	bgID, err := s.CreateAsset(ctx, Asset{Kind: AssetImage, Origin: "local", OriginID: "/origin/bg.png"})
	require.NoError(t, err)

	require.NoError(t, s.LinkJobInput(ctx, jobID, audioID, RoleTrack, 1))
	require.NoError(t, s.LinkJobInput(ctx, jobID, audioID, RoleTrack, 1))
	require.NoError(t, s.LinkJobInput(ctx, jobID, bgID, RoleBackground, 0))

	inputs, err := s.ListJobInputs(ctx, jobID)
	require.NoError(t, err)
	assert.Len(t, inputs, 2, "re-linking must not duplicate")
}

func TestJobInputs_TrackOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	relID := seedRelease(t, s, "ch")
	jobID := seedJob(t, s, relID, lifecycle.StateReadyForRender)

	for i := 3; i >= 1; i-- {
		id, err := s.CreateAsset(ctx, Asset{Kind: AssetAudio, OriginID: string(rune('a' + i))})
		require.NoError(t, err)
		require.NoError(t, s.LinkJobInput(ctx, jobID, id, RoleTrack, i))
	}

	inputs, err := s.ListJobInputs(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, 1, inputs[0].OrderIdx)
	assert.Equal(t, 2, inputs[1].OrderIdx)
	assert.Equal(t, 3, inputs[2].OrderIdx)
}

func TestJobOutputs_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	relID := seedRelease(t, s, "ch")
	jobID := seedJob(t, s, relID, lifecycle.StateQARunning)

	mp4, err := s.CreateAsset(ctx, Asset{Kind: AssetMP4, LocalPath: "/storage/outbox/job_1/render.mp4"})
	require.NoError(t, err)
	require.NoError(t, s.LinkJobOutput(ctx, jobID, mp4, RoleMP4))

	outs, err := s.ListJobOutputs(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, RoleMP4, outs[0].Role)
	assert.Equal(t, AssetMP4, outs[0].Asset.Kind)
}

func TestGetBundle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chID, err := s.UpsertChannel(ctx, Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "hd24"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertRenderProfile(ctx, RenderProfile{Name: "hd24", Width: 1920, Height: 1080, FPS: 24, VideoCodec: "h264", AudioRate: 48000, AudioChannels: 2, AudioCodec: "aac"}))
	relID, err := s.CreateRelease(ctx, Release{ChannelID: chID, Title: "Night Drive", OriginMetaKey: "k1"})
	require.NoError(t, err)
	jobID := seedJob(t, s, relID, lifecycle.StateReadyForRender)

	b, err := s.GetBundle(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, b.Job.ID)
	assert.Equal(t, "Night Drive", b.Release.Title)
	assert.Equal(t, "darkwood-reverie", b.Channel.Slug)
	assert.Equal(t, 1920, b.Profile.Width)
}

func TestGetBundle_MissingProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	relID := seedRelease(t, s, "ch") // render_profile "default" has no row
	jobID := seedJob(t, s, relID, lifecycle.StateReadyForRender)

	b, err := s.GetBundle(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "default", b.Profile.Name)
	assert.Zero(t, b.Profile.Width)
}

func TestQAReport_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	relID := seedRelease(t, s, "ch")
	jobID := seedJob(t, s, relID, lifecycle.StateQARunning)

	w, h, sr, chn := 1920, 1080, 48000, 2
	fps, de, da := 24.0, 30.0, 30.1
	vc, ac := "h264", "aac"
	mean, max := -30.0, -2.0

	report := QAReport{
		JobID: jobID, HardOK: true,
		Warnings: []string{"fps 23.4 outside tolerance"},
		Info:     []string{"volumedetect over first 60s"},
		Width:    &w, Height: &h, FPS: &fps, VideoCodec: &vc, AudioCodec: &ac,
		SampleRate: &sr, Channels: &chn,
		DurationExpected: &de, DurationActual: &da,
		MeanVolumeDB: &mean, MaxVolumeDB: &max,
	}
	require.NoError(t, s.UpsertQAReport(ctx, report))

	got, err := s.GetQAReport(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, got.HardOK)
	assert.Equal(t, report.Warnings, got.Warnings)
	assert.Equal(t, 1920, *got.Width)
	assert.InDelta(t, -30.0, *got.MeanVolumeDB, 0.001)

	// Re-running QA replaces the report.
	report.HardOK = false
	report.Warnings = nil
	require.NoError(t, s.UpsertQAReport(ctx, report))
	got, err = s.GetQAReport(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, got.HardOK)
	assert.Empty(t, got.Warnings)
}

func TestUpload_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	relID := seedRelease(t, s, "ch")
	jobID := seedJob(t, s, relID, lifecycle.StateUploading)

	_, err := s.GetUpload(ctx, jobID)
	assert.ErrorIs(t, err, ErrNotFound)

	uploadedAt := s.nowUnix()
	require.NoError(t, s.SetUpload(ctx, Upload{
		JobID: jobID, VideoID: "vid123",
		URL:     "https://www.youtube.com/watch?v=vid123",
		EditURL: "https://studio.youtube.com/video/vid123/edit",
		Privacy: "private", UploadedAt: &uploadedAt,
	}))

	got, err := s.GetUpload(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "vid123", got.VideoID)
	assert.Equal(t, "private", got.Privacy)
	assert.Nil(t, got.Error)

	require.NoError(t, s.SetUploadError(ctx, jobID, "quota exceeded"))
	got, err = s.GetUpload(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "vid123", got.VideoID, "recording an error keeps the video id")
	require.NotNil(t, got.Error)
	assert.Equal(t, "quota exceeded", *got.Error)
}

func TestDrafts_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	relID := seedRelease(t, s, "ch")

	id, err := s.CreateDraft(ctx, Draft{
		ChannelSlug: "ch", Title: "Night Drive", TagsCSV: "ambient,night",
		BackgroundName: "forest", BackgroundExt: "png", AudioIDs: "001 002",
	})
	require.NoError(t, err)

	d, err := s.GetDraft(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Night Drive", d.Title)
	assert.Nil(t, d.JobID)

	d.Title = "Night Drive II"
	require.NoError(t, s.UpdateDraft(ctx, *d))

	jobID := seedJob(t, s, relID, lifecycle.StateReadyForRender)
	require.NoError(t, s.BindDraftJob(ctx, id, jobID))

	d, err = s.GetDraft(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Night Drive II", d.Title)
	require.NotNil(t, d.JobID)
	assert.Equal(t, jobID, *d.JobID)

	list, err := s.ListDrafts(ctx, "ch")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, s.UpdateDraft(ctx, Draft{ID: 999, Title: "x"}), ErrNotFound)
}

func TestMaterializeDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chID, err := s.UpsertChannel(ctx, Channel{Slug: "ch", DisplayName: "Ch", RenderProfile: "default"})
	require.NoError(t, err)

	draftID, err := s.CreateDraft(ctx, Draft{
		ChannelSlug: "ch", Title: "Night Drive",
		BackgroundName: "forest", BackgroundExt: "png", AudioIDs: "001",
	})
	require.NoError(t, err)

	// One asset already exists; materialization must reuse it.
	existing, err := s.EnsureAsset(ctx, Asset{Kind: AssetAudio, Origin: "local", OriginID: "a/001_intro.wav"})
	require.NoError(t, err)

	jobID, err := s.MaterializeDraft(ctx, Release{
		ChannelID: chID, Title: "Night Drive", OriginMetaKey: "draft:1",
	}, draftID, []DraftInput{
		{Asset: Asset{Kind: AssetAudio, Origin: "local", OriginID: "a/001_intro.wav"}, Role: RoleTrack, OrderIdx: 0},
		{Asset: Asset{Kind: AssetImage, Origin: "local", OriginID: "i/forest.png"}, Role: RoleBackground, OrderIdx: 0},
	}, 100)
	require.NoError(t, err)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReadyForRender, job.State)

	inputs, err := s.ListJobInputs(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, existing, inputs[1].Asset.ID)

	d, err := s.GetDraft(ctx, draftID)
	require.NoError(t, err)
	require.NotNil(t, d.JobID)
	assert.Equal(t, jobID, *d.JobID)
}

func TestMaterializeDraft_RollsBackOnDuplicateMetaKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chID, err := s.UpsertChannel(ctx, Channel{Slug: "ch", DisplayName: "Ch", RenderProfile: "default"})
	require.NoError(t, err)
	draftID, err := s.CreateDraft(ctx, Draft{ChannelSlug: "ch", Title: "Again"})
	require.NoError(t, err)

	_, err = s.CreateRelease(ctx, Release{ChannelID: chID, Title: "First", OriginMetaKey: "dup"})
	require.NoError(t, err)

	_, err = s.MaterializeDraft(ctx, Release{ChannelID: chID, Title: "Again", OriginMetaKey: "dup"},
		draftID, nil, 100)
	require.Error(t, err)

	// Nothing was committed: no job appeared and the draft stays unbound.
	jobs, err := s.ListJobs(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	d, err := s.GetDraft(ctx, draftID)
	require.NoError(t, err)
	assert.Nil(t, d.JobID)
}

func TestHeartbeats_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TouchWorker(ctx, Heartbeat{WorkerID: "orchestrator-1", Role: "orchestrator", PID: 42, Hostname: "render-1"}))
	require.NoError(t, s.TouchWorker(ctx, Heartbeat{WorkerID: "orchestrator-1", Role: "orchestrator", PID: 42, Hostname: "render-1", Detail: `{"job":3}`}))
	require.NoError(t, s.TouchWorker(ctx, Heartbeat{WorkerID: "qa-1", Role: "qa", PID: 43, Hostname: "render-1"}))

	workers, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	for _, w := range workers {
		if w.WorkerID == "orchestrator-1" {
			assert.Equal(t, `{"job":3}`, w.Detail)
		}
	}
}

func TestTracks_DiscoveryQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chID, err := s.UpsertChannel(ctx, Channel{Slug: "ch", DisplayName: "Ch", RenderProfile: "default"})
	require.NoError(t, err)

	t.Run("upsert is idempotent", func(t *testing.T) {
		track := Track{ChannelID: chID, TrackNo: "001", Title: "Night Drive", FileName: "001_Night_Drive.wav"}
		require.NoError(t, s.UpsertTrack(ctx, track))
		require.NoError(t, s.UpsertTrack(ctx, track))

		tracks, err := s.ListTracks(ctx, chID)
		require.NoError(t, err)
		assert.Len(t, tracks, 1)
	})

	t.Run("claim and finish", func(t *testing.T) {
		jobID, err := s.CreateTrackJob(ctx, chID, 100)
		require.NoError(t, err)

		tj, err := s.ClaimTrackJob(ctx, "tracks-1", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, tj)
		assert.Equal(t, jobID, tj.ID)
		assert.Equal(t, TrackJobRunning, tj.State)

		// Nothing else to claim.
		tj2, err := s.ClaimTrackJob(ctx, "tracks-2", time.Hour)
		require.NoError(t, err)
		assert.Nil(t, tj2)

		require.NoError(t, s.FinishTrackJob(ctx, jobID, TrackJobDone, ""))
		got, err := s.getTrackJob(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, TrackJobDone, got.State)
		assert.Nil(t, got.LockedBy)
	})
}
