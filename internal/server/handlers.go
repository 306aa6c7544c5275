package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/preflight"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
	"github.com/castwave/release-factory/internal/trackcatalog"
)

const defaultLogTail = 200

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	store     *store.Store
	layout    *storage.Layout
	preflight *preflight.Preflight
	catalog   *trackcatalog.Cataloger
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, layout *storage.Layout, pf *preflight.Preflight, cat *trackcatalog.Cataloger, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:     st,
		layout:    layout,
		preflight: pf,
		catalog:   cat,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListJobs handles GET /v1/jobs requests, optionally filtered by state.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	state := lifecycle.State(r.URL.Query().Get("state"))
	if state != "" && !lifecycle.Known(state) {
		writeError(w, http.StatusBadRequest, "unknown state "+string(state), "UNKNOWN_STATE")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", "INVALID_LIMIT")
			return
		}
		limit = n
	}

	views, err := h.store.ListJobs(r.Context(), state, limit)
	if err != nil {
		h.logger.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "LIST_FAILED")
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(views))}
	for _, v := range views {
		resp.Jobs = append(resp.Jobs, jobDTO(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /v1/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	bundle, err := h.store.GetBundle(r.Context(), jobID)
	if err != nil {
		h.jobError(w, jobID, "fetch", err)
		return
	}
	view := store.JobView{
		Job:            bundle.Job,
		ReleaseTitle:   bundle.Release.Title,
		ChannelSlug:    bundle.Channel.Slug,
		ChannelDisplay: bundle.Channel.DisplayName,
	}
	writeJSON(w, http.StatusOK, jobDTO(view))
}

// GetJobLogs handles GET /v1/jobs/{id}/logs requests.
func (h *Handlers) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		h.jobError(w, jobID, "fetch", err)
		return
	}
	tail := defaultLogTail
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid tail", "INVALID_TAIL")
			return
		}
		tail = n
	}
	lines, err := h.layout.TailJobLog(jobID, tail)
	if err != nil {
		h.logger.Error("read job log failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read log", "LOG_READ_FAILED")
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{JobID: jobID, Lines: lines})
}

// GetJobQA handles GET /v1/jobs/{id}/qa requests.
func (h *Handlers) GetJobQA(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	report, err := h.store.GetQAReport(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no QA report", "QA_NOT_FOUND")
			return
		}
		h.logger.Error("get QA report failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get QA report", "QA_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, QAResponse{
		JobID:            report.JobID,
		HardOK:           report.HardOK,
		Warnings:         report.Warnings,
		Info:             report.Info,
		Width:            report.Width,
		Height:           report.Height,
		FPS:              report.FPS,
		VideoCodec:       report.VideoCodec,
		AudioCodec:       report.AudioCodec,
		SampleRate:       report.SampleRate,
		Channels:         report.Channels,
		DurationExpected: report.DurationExpected,
		DurationActual:   report.DurationActual,
		MeanVolumeDB:     report.MeanVolumeDB,
		MaxVolumeDB:      report.MaxVolumeDB,
	})
}

// ApproveJob handles POST /v1/jobs/{id}/approve requests.
func (h *Handlers) ApproveJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.store.Approve(r.Context(), jobID); err != nil {
		h.jobError(w, jobID, "approve", err)
		return
	}
	h.audit(r.Context(), jobID, "approve", req.Comment)
	h.logger.Info("job approved", "job_id", jobID, "comment", req.Comment)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// RejectJob handles POST /v1/jobs/{id}/reject requests.
func (h *Handlers) RejectJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.Reject(r.Context(), jobID, req.Comment); err != nil {
		h.jobError(w, jobID, "reject", err)
		return
	}
	h.audit(r.Context(), jobID, "reject", req.Comment)
	h.logger.Info("job rejected", "job_id", jobID)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// CancelJob handles POST /v1/jobs/{id}/cancel requests. Besides the state
// write it drops the cancellation marker so a live renderer stops within one
// polling cycle.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled via API"
	}
	if err := h.store.CancelJob(r.Context(), jobID, reason); err != nil {
		h.jobError(w, jobID, "cancel", err)
		return
	}
	if ws, err := h.layout.OpenWorkspace(jobID); err == nil {
		if err := ws.RequestCancel(); err != nil {
			h.logger.Warn("cancel marker write failed", "job_id", jobID, "error", err)
		}
	}
	h.audit(r.Context(), jobID, "cancel", reason)
	h.logger.Info("job cancelled", "job_id", jobID, "reason", reason)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// MarkPublished handles POST /v1/jobs/{id}/mark_published requests.
func (h *Handlers) MarkPublished(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	deleteAt, err := h.store.MarkPublished(r.Context(), jobID, lifecycle.RetentionWindow)
	if err != nil {
		h.jobError(w, jobID, "mark published", err)
		return
	}
	h.audit(r.Context(), jobID, "publish", "")
	h.logger.Info("job published", "job_id", jobID, "delete_mp4_at", deleteAt)
	writeJSON(w, http.StatusOK, PublishResponse{OK: true, DeleteMP4At: float64(deleteAt.UnixNano()) / 1e9})
}

// ListChannels handles GET /v1/channels requests.
func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.ListChannels(r.Context())
	if err != nil {
		h.logger.Error("list channels failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list channels", "LIST_FAILED")
		return
	}
	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelDTO(ch))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateChannel handles POST /v1/channels requests. Posting an existing slug
// updates the channel in place.
func (h *Handlers) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch := store.Channel{
		Slug:          req.Slug,
		DisplayName:   req.DisplayName,
		RenderProfile: req.RenderProfile,
		Autopublish:   req.Autopublish,
	}
	if req.YouTubeChannelID != "" {
		ch.YouTubeChannelID = &req.YouTubeChannelID
	}
	id, err := h.store.UpsertChannel(r.Context(), ch)
	if err != nil {
		h.logger.Error("upsert channel failed", "slug", req.Slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save channel", "CHANNEL_SAVE_FAILED")
		return
	}
	ch.ID = id
	writeJSON(w, http.StatusCreated, channelDTO(ch))
}

// ListChannelTracks handles GET /v1/channels/{slug}/tracks requests.
func (h *Handlers) ListChannelTracks(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	ch, err := h.store.GetChannelBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "channel not found", "CHANNEL_NOT_FOUND")
			return
		}
		h.logger.Error("get channel failed", "slug", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get channel", "CHANNEL_FETCH_FAILED")
		return
	}
	tracks, err := h.store.ListTracks(r.Context(), ch.ID)
	if err != nil {
		h.logger.Error("list tracks failed", "slug", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tracks", "LIST_FAILED")
		return
	}
	out := make([]TrackResponse, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, TrackResponse{TrackNo: t.TrackNo, Title: t.Title, FileName: t.FileName})
	}
	writeJSON(w, http.StatusOK, out)
}

// RescanTracks handles POST /v1/tracks/rescan requests.
func (h *Handlers) RescanTracks(w http.ResponseWriter, r *http.Request) {
	queued, err := h.catalog.EnqueueAll(r.Context())
	if err != nil {
		h.logger.Error("enqueue catalog scans failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue scans", "RESCAN_FAILED")
		return
	}
	writeJSON(w, http.StatusAccepted, RescanResponse{Queued: queued})
}

// ListWorkers handles GET /v1/workers requests.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.ListWorkers(r.Context())
	if err != nil {
		h.logger.Error("list workers failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list workers", "LIST_FAILED")
		return
	}
	out := make([]WorkerResponse, 0, len(workers))
	for _, hb := range workers {
		out = append(out, WorkerResponse{
			WorkerID: hb.WorkerID,
			Role:     hb.Role,
			PID:      hb.PID,
			Hostname: hb.Hostname,
			LastSeen: hb.LastSeen,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateDraft handles POST /v1/drafts requests.
func (h *Handlers) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.store.GetChannelBySlug(r.Context(), req.ChannelSlug); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown channel "+req.ChannelSlug, "UNKNOWN_CHANNEL")
			return
		}
		h.logger.Error("get channel failed", "slug", req.ChannelSlug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get channel", "CHANNEL_FETCH_FAILED")
		return
	}
	draft := draftFromRequest(req)
	id, err := h.store.CreateDraft(r.Context(), draft)
	if err != nil {
		h.logger.Error("create draft failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create draft", "DRAFT_CREATE_FAILED")
		return
	}
	created, err := h.store.GetDraft(r.Context(), id)
	if err != nil {
		h.logger.Error("get draft failed", "draft_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get draft", "DRAFT_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusCreated, draftDTO(*created))
}

// ListDrafts handles GET /v1/drafts requests, optionally by channel.
func (h *Handlers) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.store.ListDrafts(r.Context(), r.URL.Query().Get("channel"))
	if err != nil {
		h.logger.Error("list drafts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list drafts", "LIST_FAILED")
		return
	}
	out := make([]DraftResponse, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, draftDTO(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDraft handles GET /v1/drafts/{id} requests.
func (h *Handlers) GetDraft(w http.ResponseWriter, r *http.Request) {
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}
	draft, err := h.store.GetDraft(r.Context(), draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "draft not found", "DRAFT_NOT_FOUND")
			return
		}
		h.logger.Error("get draft failed", "draft_id", draftID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get draft", "DRAFT_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, draftDTO(*draft))
}

// UpdateDraft handles PUT /v1/drafts/{id} requests. Submitted drafts are
// frozen.
func (h *Handlers) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}
	existing, err := h.store.GetDraft(r.Context(), draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "draft not found", "DRAFT_NOT_FOUND")
			return
		}
		h.logger.Error("get draft failed", "draft_id", draftID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get draft", "DRAFT_FETCH_FAILED")
		return
	}
	if existing.JobID != nil {
		writeError(w, http.StatusConflict, "draft already submitted", "DRAFT_SUBMITTED")
		return
	}
	var req DraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	draft := draftFromRequest(req)
	draft.ID = draftID
	if err := h.store.UpdateDraft(r.Context(), draft); err != nil {
		h.logger.Error("update draft failed", "draft_id", draftID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update draft", "DRAFT_UPDATE_FAILED")
		return
	}
	updated, err := h.store.GetDraft(r.Context(), draftID)
	if err != nil {
		h.logger.Error("get draft failed", "draft_id", draftID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get draft", "DRAFT_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, draftDTO(*updated))
}

// SubmitDraft handles POST /v1/drafts/{id}/submit requests: preflight the
// draft against the origin and promote it into a render job.
func (h *Handlers) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}
	jobID, err := h.preflight.Submit(r.Context(), draftID)
	if err != nil {
		h.submitError(w, draftID, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{OK: true, JobID: jobID})
}

// RenderAll handles POST /v1/drafts/render_all requests: promote every
// unsubmitted draft of a channel, collecting per-draft failures.
func (h *Handlers) RenderAll(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel query parameter is required", "MISSING_CHANNEL")
		return
	}
	drafts, err := h.store.ListDrafts(r.Context(), channel)
	if err != nil {
		h.logger.Error("list drafts failed", "channel", channel, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list drafts", "LIST_FAILED")
		return
	}
	resp := RenderAllResponse{Submitted: []int64{}}
	for _, d := range drafts {
		if d.JobID != nil {
			continue
		}
		if _, err := h.preflight.Submit(r.Context(), d.ID); err != nil {
			if resp.Failed == nil {
				resp.Failed = map[int64]string{}
			}
			resp.Failed[d.ID] = err.Error()
			continue
		}
		resp.Submitted = append(resp.Submitted, d.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func draftFromRequest(req DraftRequest) store.Draft {
	return store.Draft{
		ChannelSlug:    req.ChannelSlug,
		Title:          req.Title,
		TagsCSV:        req.TagsCSV,
		BackgroundName: req.BackgroundName,
		BackgroundExt:  req.BackgroundExt,
		CoverName:      req.CoverName,
		CoverExt:       req.CoverExt,
		AudioIDs:       req.AudioIDs,
	}
}

func (h *Handlers) jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id", "INVALID_JOB_ID")
		return 0, false
	}
	return id, true
}

func (h *Handlers) draftID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid draft id", "INVALID_DRAFT_ID")
		return 0, false
	}
	return id, true
}

// decode parses and validates a required JSON body.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// decodeOptional tolerates an empty body but rejects malformed JSON.
func (h *Handlers) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to decode request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	return true
}

// audit records a human decision on a job. The state transition already
// succeeded, so a failed audit write is logged rather than surfaced.
func (h *Handlers) audit(ctx context.Context, jobID int64, action, comment string) {
	if err := h.store.AddApproval(ctx, jobID, action, comment); err != nil {
		h.logger.Warn("audit write failed", "job_id", jobID, "action", action, "error", err)
	}
}

// jobError maps store errors from job mutations to HTTP statuses.
func (h *Handlers) jobError(w http.ResponseWriter, jobID int64, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "job state does not allow "+op, "STATE_CONFLICT")
	default:
		h.logger.Error("job "+op+" failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" job", "JOB_OP_FAILED")
	}
}

// submitError maps preflight failures to HTTP statuses, carrying per-field
// details on validation errors.
func (h *Handlers) submitError(w http.ResponseWriter, draftID int64, err error) {
	var verr *preflight.ValidationError
	if errors.As(err, &verr) {
		fields := make([]FieldDetail, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, FieldDetail{Field: f.Field, Detail: f.Detail})
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  verr.Error(),
			Code:   "PREFLIGHT_FAILED",
			Fields: fields,
		})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "draft not found", "DRAFT_NOT_FOUND")
		return
	}
	h.logger.Error("draft submit failed", "draft_id", draftID, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to submit draft", "SUBMIT_FAILED")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
