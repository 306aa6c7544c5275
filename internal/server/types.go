// Package server provides the approval and control-plane HTTP API. Handlers,
// middleware, routes and DTOs live here, separated from the store records.
package server

import (
	"github.com/castwave/release-factory/internal/store"
)

// ApproveRequest is the body of POST /v1/jobs/{id}/approve.
type ApproveRequest struct {
	// Comment is an optional reviewer note, kept in the request log only.
	Comment string `json:"comment"`
}

// RejectRequest is the body of POST /v1/jobs/{id}/reject.
type RejectRequest struct {
	// Comment explains the rejection; recorded as the job's error reason.
	Comment string `json:"comment" validate:"required"`
}

// CancelRequest is the body of POST /v1/jobs/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// OKResponse acknowledges a mutating call.
type OKResponse struct {
	OK bool `json:"ok"`
}

// PublishResponse reports the scheduled MP4 deletion time.
type PublishResponse struct {
	OK          bool    `json:"ok"`
	DeleteMP4At float64 `json:"delete_mp4_at"`
}

// JobResponse is one job joined with its release and channel.
type JobResponse struct {
	ID           int64    `json:"id"`
	State        string   `json:"state"`
	Stage        string   `json:"stage"`
	Priority     int      `json:"priority"`
	Attempt      int      `json:"attempt"`
	ReleaseTitle string   `json:"release_title"`
	ChannelSlug  string   `json:"channel_slug"`
	ProgressPct  *float64 `json:"progress_pct,omitempty"`
	ProgressText *string  `json:"progress_text,omitempty"`
	ErrorReason  *string  `json:"error_reason,omitempty"`
	RetryAt      *float64 `json:"retry_at,omitempty"`
	PublishedAt  *float64 `json:"published_at,omitempty"`
	DeleteMP4At  *float64 `json:"delete_mp4_at,omitempty"`
	CreatedAt    float64  `json:"created_at"`
	UpdatedAt    float64  `json:"updated_at"`
}

// JobListResponse wraps GET /v1/jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// LogsResponse carries the tail of a per-job render log.
type LogsResponse struct {
	JobID int64    `json:"job_id"`
	Lines []string `json:"lines"`
}

// QAResponse is the persisted QA report of a job.
type QAResponse struct {
	JobID            int64    `json:"job_id"`
	HardOK           bool     `json:"hard_ok"`
	Warnings         []string `json:"warnings"`
	Info             []string `json:"info"`
	Width            *int     `json:"width,omitempty"`
	Height           *int     `json:"height,omitempty"`
	FPS              *float64 `json:"fps,omitempty"`
	VideoCodec       *string  `json:"video_codec,omitempty"`
	AudioCodec       *string  `json:"audio_codec,omitempty"`
	SampleRate       *int     `json:"sample_rate,omitempty"`
	Channels         *int     `json:"channels,omitempty"`
	DurationExpected *float64 `json:"duration_expected,omitempty"`
	DurationActual   *float64 `json:"duration_actual,omitempty"`
	MeanVolumeDB     *float64 `json:"mean_volume_db,omitempty"`
	MaxVolumeDB      *float64 `json:"max_volume_db,omitempty"`
}

// ChannelRequest is the body of POST /v1/channels.
type ChannelRequest struct {
	Slug             string `json:"slug" validate:"required,lowercase"`
	DisplayName      string `json:"display_name" validate:"required"`
	RenderProfile    string `json:"render_profile" validate:"required"`
	Autopublish      bool   `json:"autopublish"`
	YouTubeChannelID string `json:"youtube_channel_id"`
}

// ChannelResponse is one channel row.
type ChannelResponse struct {
	ID               int64   `json:"id"`
	Slug             string  `json:"slug"`
	DisplayName      string  `json:"display_name"`
	RenderProfile    string  `json:"render_profile"`
	Autopublish      bool    `json:"autopublish"`
	YouTubeChannelID *string `json:"youtube_channel_id,omitempty"`
}

// DraftRequest is the body of draft create and update calls.
type DraftRequest struct {
	ChannelSlug    string `json:"channel_slug" validate:"required"`
	Title          string `json:"title" validate:"required"`
	TagsCSV        string `json:"tags_csv"`
	BackgroundName string `json:"background_name" validate:"required"`
	BackgroundExt  string `json:"background_ext"`
	CoverName      string `json:"cover_name"`
	CoverExt       string `json:"cover_ext"`
	AudioIDs       string `json:"audio_ids" validate:"required"`
}

// DraftResponse is one draft row.
type DraftResponse struct {
	ID             int64   `json:"id"`
	ChannelSlug    string  `json:"channel_slug"`
	Title          string  `json:"title"`
	TagsCSV        string  `json:"tags_csv"`
	BackgroundName string  `json:"background_name"`
	BackgroundExt  string  `json:"background_ext"`
	CoverName      string  `json:"cover_name"`
	CoverExt       string  `json:"cover_ext"`
	AudioIDs       string  `json:"audio_ids"`
	JobID          *int64  `json:"job_id,omitempty"`
	CreatedAt      float64 `json:"created_at"`
}

// SubmitResponse reports the job a draft was promoted into.
type SubmitResponse struct {
	OK    bool  `json:"ok"`
	JobID int64 `json:"job_id"`
}

// RenderAllResponse summarizes a batch promotion of a channel's drafts.
type RenderAllResponse struct {
	Submitted []int64          `json:"submitted"`
	Failed    map[int64]string `json:"failed,omitempty"`
}

// WorkerResponse is one worker heartbeat row.
type WorkerResponse struct {
	WorkerID string  `json:"worker_id"`
	Role     string  `json:"role"`
	PID      int     `json:"pid"`
	Hostname string  `json:"hostname"`
	LastSeen float64 `json:"last_seen"`
}

// TrackResponse is one catalog track of a channel.
type TrackResponse struct {
	TrackNo  string `json:"track_no"`
	Title    string `json:"title"`
	FileName string `json:"file_name"`
}

// RescanResponse reports how many catalog scans were queued.
type RescanResponse struct {
	Queued int `json:"queued"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Fields carries per-field details on preflight failures.
	Fields []FieldDetail `json:"fields,omitempty"`
}

// FieldDetail is one preflight field failure.
type FieldDetail struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func jobDTO(v store.JobView) JobResponse {
	return JobResponse{
		ID:           v.ID,
		State:        string(v.State),
		Stage:        string(v.Stage),
		Priority:     v.Priority,
		Attempt:      v.Attempt,
		ReleaseTitle: v.ReleaseTitle,
		ChannelSlug:  v.ChannelSlug,
		ProgressPct:  v.ProgressPct,
		ProgressText: v.ProgressText,
		ErrorReason:  v.ErrorReason,
		RetryAt:      v.RetryAt,
		PublishedAt:  v.PublishedAt,
		DeleteMP4At:  v.DeleteMP4At,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

func draftDTO(d store.Draft) DraftResponse {
	return DraftResponse{
		ID:             d.ID,
		ChannelSlug:    d.ChannelSlug,
		Title:          d.Title,
		TagsCSV:        d.TagsCSV,
		BackgroundName: d.BackgroundName,
		BackgroundExt:  d.BackgroundExt,
		CoverName:      d.CoverName,
		CoverExt:       d.CoverExt,
		AudioIDs:       d.AudioIDs,
		JobID:          d.JobID,
		CreatedAt:      d.CreatedAt,
	}
}

func channelDTO(ch store.Channel) ChannelResponse {
	return ChannelResponse{
		ID:               ch.ID,
		Slug:             ch.Slug,
		DisplayName:      ch.DisplayName,
		RenderProfile:    ch.RenderProfile,
		Autopublish:      ch.Autopublish,
		YouTubeChannelID: ch.YouTubeChannelID,
	}
}
