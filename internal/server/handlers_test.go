package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/preflight"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
	"github.com/castwave/release-factory/internal/trackcatalog"
)

const (
	testUser = "admin"
	testPass = "hunter2"
)

type apiRig struct {
	srv      *httptest.Server
	store    *store.Store
	layout   *storage.Layout
	root     string
	channel  int64
	releases int
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "factory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)

	chID, err := st.UpsertChannel(context.Background(), store.Channel{
		Slug:          "lofi",
		DisplayName:   "Lofi Nights",
		RenderProfile: "1080p24",
	})
	require.NoError(t, err)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "channels", "lofi"), 0o750))
	org, err := origin.NewLocal(root)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := &config.Config{JobLockTTLSec: 60}
	pf := preflight.New(st, org, logger)
	cat := trackcatalog.New(st, org, cfg, logger, "api-test")

	h := NewHandlers(st, layout, pf, cat, logger)
	router := NewRouter(h, logger, Config{
		AllowedOrigins: []string{"*"},
		APIUser:        testUser,
		APIPassword:    testPass,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &apiRig{srv: srv, store: st, layout: layout, root: root, channel: chID}
}

// newJob seeds a release plus a job directly in the given state.
func (r *apiRig) newJob(t *testing.T, state lifecycle.State) int64 {
	t.Helper()
	r.releases++
	relID, err := r.store.CreateRelease(context.Background(), store.Release{
		ChannelID:     r.channel,
		Title:         "Midnight Tapes",
		Tags:          []string{"lofi"},
		OriginMetaKey: fmt.Sprintf("rel-%d", r.releases),
	})
	require.NoError(t, err)
	jobID, err := r.store.CreateJob(context.Background(), relID, state, 100)
	require.NoError(t, err)
	return jobID
}

func (r *apiRig) do(t *testing.T, method, path string, body any, authed bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.srv.URL+path, &buf)
	require.NoError(t, err)
	if authed {
		req.SetBasicAuth(testUser, testPass)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	r := newAPIRig(t)
	resp := r.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, resp).Status)
}

func TestListJobs_FilterByState(t *testing.T) {
	r := newAPIRig(t)
	r.newJob(t, lifecycle.StateReadyForRender)
	waiting := r.newJob(t, lifecycle.StateWaitApproval)

	resp := r.do(t, http.MethodGet, "/v1/jobs?state=WAIT_APPROVAL", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[JobListResponse](t, resp)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, waiting, list.Jobs[0].ID)
	assert.Equal(t, "WAIT_APPROVAL", list.Jobs[0].State)
	assert.Equal(t, "Midnight Tapes", list.Jobs[0].ReleaseTitle)
	assert.Equal(t, "lofi", list.Jobs[0].ChannelSlug)
}

func TestListJobs_UnknownState(t *testing.T) {
	r := newAPIRig(t)
	resp := r.do(t, http.MethodGet, "/v1/jobs?state=SHIPPING", nil, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_STATE", decodeBody[ErrorResponse](t, resp).Code)
}

func TestGetJob(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateRendering)

	resp := r.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d", jobID), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeBody[JobResponse](t, resp)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, "RENDERING", job.State)

	resp = r.do(t, http.MethodGet, "/v1/jobs/9999", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApprove(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateWaitApproval)

	resp := r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/approve", jobID), ApproveRequest{Comment: "looks good"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[OKResponse](t, resp).OK)

	job, err := r.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateApproved, job.State)

	trail, err := r.store.ListApprovals(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "approve", trail[0].Action)
	assert.Equal(t, "looks good", trail[0].Comment)

	// A second approve is a state conflict.
	resp = r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/approve", jobID), nil, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "STATE_CONFLICT", decodeBody[ErrorResponse](t, resp).Code)
}

func TestReject_RequiresComment(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateWaitApproval)

	resp := r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/reject", jobID), RejectRequest{}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/reject", jobID), RejectRequest{Comment: "bad ducking"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	job, err := r.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRejected, job.State)
	require.NotNil(t, job.ErrorReason)
	assert.Contains(t, *job.ErrorReason, "bad ducking")

	trail, err := r.store.ListApprovals(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "reject", trail[0].Action)
}

func TestCancel(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateRendering)
	ws, err := r.layout.NewWorkspace(jobID, "Lofi Nights")
	require.NoError(t, err)

	resp := r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/cancel", jobID), CancelRequest{Reason: "operator stop"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	job, err := r.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCancelled, job.State)
	assert.True(t, ws.CancelRequested())

	// Cancelling a terminal job conflicts.
	resp = r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/cancel", jobID), nil, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMarkPublished(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateWaitApproval)

	resp := r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/mark_published", jobID), nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pub := decodeBody[PublishResponse](t, resp)
	assert.True(t, pub.OK)
	assert.Greater(t, pub.DeleteMP4At, 0.0)

	job, err := r.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatePublished, job.State)
	require.NotNil(t, job.PublishedAt)
	require.NotNil(t, job.DeleteMP4At)
	assert.InDelta(t, *job.PublishedAt+lifecycle.RetentionWindow.Seconds(), *job.DeleteMP4At, 1.0)
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateWaitApproval)

	resp := r.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/approve", jobID), nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="release-factory"`, resp.Header.Get("WWW-Authenticate"))

	// The job is untouched.
	job, err := r.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateWaitApproval, job.State)

	// Reads stay open.
	resp = r.do(t, http.MethodGet, "/v1/jobs", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFailsClosedWithoutPassword(t *testing.T) {
	called := false
	h := BasicAuthMiddleware("admin", "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	// Even a request carrying credentials is rejected.
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/1/approve", nil)
	req.SetBasicAuth("admin", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestJobLogsTail(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateRendering)
	for i := 1; i <= 5; i++ {
		require.NoError(t, r.layout.AppendJobLog(jobID, fmt.Sprintf("line %d", i)))
	}

	resp := r.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/logs?tail=2", jobID), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decodeBody[LogsResponse](t, resp)
	require.Len(t, logs.Lines, 2)
	assert.Contains(t, logs.Lines[0], "line 4")
	assert.Contains(t, logs.Lines[1], "line 5")
}

func TestJobQA(t *testing.T) {
	r := newAPIRig(t)
	jobID := r.newJob(t, lifecycle.StateQAFailed)

	resp := r.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/qa", jobID), nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	width := 1920
	require.NoError(t, r.store.UpsertQAReport(context.Background(), store.QAReport{
		JobID:    jobID,
		HardOK:   true,
		Warnings: []string{"fps 25.0 differs from target 24.0"},
		Width:    &width,
	}))

	resp = r.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/qa", jobID), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	qa := decodeBody[QAResponse](t, resp)
	assert.True(t, qa.HardOK)
	require.Len(t, qa.Warnings, 1)
	require.NotNil(t, qa.Width)
	assert.Equal(t, 1920, *qa.Width)
}

func TestChannels_CreateAndList(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodPost, "/v1/channels", ChannelRequest{Slug: "vapor"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = r.do(t, http.MethodPost, "/v1/channels", ChannelRequest{
		Slug:          "vapor",
		DisplayName:   "Vapor Drift",
		RenderProfile: "1080p24",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[ChannelResponse](t, resp)
	assert.Equal(t, "vapor", created.Slug)
	assert.NotZero(t, created.ID)

	resp = r.do(t, http.MethodGet, "/v1/channels", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	channels := decodeBody[[]ChannelResponse](t, resp)
	assert.Len(t, channels, 2)
}

func TestWorkers_List(t *testing.T) {
	r := newAPIRig(t)
	require.NoError(t, r.store.TouchWorker(context.Background(), store.Heartbeat{
		WorkerID: "render-abc123",
		Role:     "render",
		PID:      42,
		Hostname: "factory-1",
	}))

	resp := r.do(t, http.MethodGet, "/v1/workers", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	workers := decodeBody[[]WorkerResponse](t, resp)
	require.Len(t, workers, 1)
	assert.Equal(t, "render-abc123", workers[0].WorkerID)
	assert.Equal(t, "render", workers[0].Role)
}

func TestTracks_RescanAndList(t *testing.T) {
	r := newAPIRig(t)
	audio := filepath.Join(r.root, "channels", "lofi", "Audio")
	require.NoError(t, os.MkdirAll(audio, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(audio, "001_night_drive.wav"), []byte("wav"), 0o600))

	resp := r.do(t, http.MethodPost, "/v1/tracks/rescan", nil, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[RescanResponse](t, resp).Queued)

	// Queued only; a worker performs the scan.
	resp = r.do(t, http.MethodGet, "/v1/channels/lofi/tracks", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]TrackResponse](t, resp))

	resp = r.do(t, http.MethodGet, "/v1/channels/ghost/tracks", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDrafts_CRUDAndSubmit(t *testing.T) {
	r := newAPIRig(t)

	chDir := filepath.Join(r.root, "channels", "lofi")
	require.NoError(t, os.MkdirAll(filepath.Join(chDir, "Image"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(chDir, "Audio"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(chDir, "Image", "skyline.png"), []byte("png"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(chDir, "Audio", "001_intro.wav"), []byte("wav"), 0o600))

	draftReq := DraftRequest{
		ChannelSlug:    "lofi",
		Title:          "Midnight Tapes Vol. 4",
		TagsCSV:        "lofi,study",
		BackgroundName: "skyline",
		BackgroundExt:  "png",
		AudioIDs:       "1",
	}

	// Unknown channel is rejected up front.
	bad := draftReq
	bad.ChannelSlug = "ghost"
	resp := r.do(t, http.MethodPost, "/v1/drafts", bad, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = r.do(t, http.MethodPost, "/v1/drafts", draftReq, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	draft := decodeBody[DraftResponse](t, resp)
	require.NotZero(t, draft.ID)
	assert.Nil(t, draft.JobID)

	// Update before submit.
	draftReq.Title = "Midnight Tapes Vol. 4 (extended)"
	resp = r.do(t, http.MethodPut, fmt.Sprintf("/v1/drafts/%d", draft.ID), draftReq, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, draftReq.Title, decodeBody[DraftResponse](t, resp).Title)

	// Submit promotes the draft into a job.
	resp = r.do(t, http.MethodPost, fmt.Sprintf("/v1/drafts/%d/submit", draft.ID), nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decodeBody[SubmitResponse](t, resp)
	require.NotZero(t, sub.JobID)

	job, err := r.store.GetJob(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReadyForRender, job.State)

	// A submitted draft is frozen against edits.
	resp = r.do(t, http.MethodPut, fmt.Sprintf("/v1/drafts/%d", draft.ID), draftReq, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = r.do(t, http.MethodGet, "/v1/drafts?channel=lofi", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	drafts := decodeBody[[]DraftResponse](t, resp)
	require.Len(t, drafts, 1)
	require.NotNil(t, drafts[0].JobID)
}

func TestDrafts_SubmitPreflightFailure(t *testing.T) {
	r := newAPIRig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(r.root, "channels", "lofi", "Image"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(r.root, "channels", "lofi", "Audio"), 0o750))

	resp := r.do(t, http.MethodPost, "/v1/drafts", DraftRequest{
		ChannelSlug:    "lofi",
		Title:          "Ghost Release",
		BackgroundName: "missing",
		BackgroundExt:  "png",
		AudioIDs:       "1",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	draft := decodeBody[DraftResponse](t, resp)

	resp = r.do(t, http.MethodPost, fmt.Sprintf("/v1/drafts/%d/submit", draft.ID), nil, true)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "PREFLIGHT_FAILED", errResp.Code)
	require.NotEmpty(t, errResp.Fields)

	fields := make(map[string]string, len(errResp.Fields))
	for _, f := range errResp.Fields {
		fields[f.Field] = f.Detail
	}
	assert.Contains(t, fields["background"], "matches=0")
	assert.Contains(t, fields["audio"], "matches=0")
}

func TestRenderAll(t *testing.T) {
	r := newAPIRig(t)
	chDir := filepath.Join(r.root, "channels", "lofi")
	require.NoError(t, os.MkdirAll(filepath.Join(chDir, "Image"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(chDir, "Audio"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(chDir, "Image", "skyline.png"), []byte("png"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(chDir, "Audio", "001_intro.wav"), []byte("wav"), 0o600))

	good := DraftRequest{
		ChannelSlug:    "lofi",
		Title:          "Vol. 5",
		BackgroundName: "skyline",
		BackgroundExt:  "png",
		AudioIDs:       "1",
	}
	broken := good
	broken.Title = "Vol. 6"
	broken.BackgroundName = "missing"

	resp := r.do(t, http.MethodPost, "/v1/drafts", good, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	goodID := decodeBody[DraftResponse](t, resp).ID
	resp = r.do(t, http.MethodPost, "/v1/drafts", broken, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	brokenID := decodeBody[DraftResponse](t, resp).ID

	resp = r.do(t, http.MethodPost, "/v1/drafts/render_all?channel=lofi", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	batch := decodeBody[RenderAllResponse](t, resp)
	assert.Equal(t, []int64{goodID}, batch.Submitted)
	assert.Contains(t, batch.Failed[brokenID], "matches=0")

	resp = r.do(t, http.MethodPost, "/v1/drafts/render_all", nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
