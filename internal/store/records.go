package store

import "github.com/castwave/release-factory/internal/lifecycle"

// AssetKind tags what an asset row points at.
type AssetKind string

const (
	// AssetAudio is an input audio track.
	AssetAudio AssetKind = "AUDIO"
	// AssetImage is an input background or cover image.
	AssetImage AssetKind = "IMAGE"
	// AssetMP4 is the rendered output video.
	AssetMP4 AssetKind = "MP4"
	// AssetPreview60 is the short approval preview.
	AssetPreview60 AssetKind = "PREVIEW_60S"
)

// Input and output link roles.
const (
	// RoleTrack orders an audio asset into the release.
	RoleTrack = "TRACK"
	// RoleBackground marks the background image.
	RoleBackground = "BACKGROUND"
	// RoleCover marks the optional cover image.
	RoleCover = "COVER"
	// RoleMP4 marks the finished render output.
	RoleMP4 = "MP4"
	// RolePreview60 marks the preview output.
	RolePreview60 = "PREVIEW_60S"
)

// Channel is one tenant of the factory.
type Channel struct {
	ID               int64
	Slug             string
	DisplayName      string
	RenderProfile    string
	Autopublish      bool
	YouTubeChannelID *string
}

// RenderProfile is the required output shape consulted by QA.
type RenderProfile struct {
	Name          string
	Width         int
	Height        int
	FPS           float64
	VideoCodec    string
	AudioRate     int
	AudioChannels int
	AudioCodec    string
}

// Release is one planned video belonging to a channel.
type Release struct {
	ID            int64
	ChannelID     int64
	Title         string
	Description   string
	Tags          []string
	PlannedAt     *float64
	OriginMetaKey string
	CreatedAt     float64
}

// Asset points at a remote origin object or a local file.
type Asset struct {
	ID        int64
	Kind      AssetKind
	Origin    string
	OriginID  string
	LocalPath string
	CreatedAt float64
}

// Job is the scheduling unit bound to one release. All timestamps are unix
// seconds; nil pointers map to NULL columns.
type Job struct {
	ID                 int64
	ReleaseID          int64
	Type               string
	State              lifecycle.State
	Stage              lifecycle.Stage
	Priority           int
	Attempt            int
	LockedBy           *string
	LockedAt           *float64
	RetryAt            *float64
	ProgressPct        *float64
	ProgressText       *string
	ErrorReason        *string
	ApprovalNotifiedAt *float64
	PublishedAt        *float64
	DeleteMP4At        *float64
	CreatedAt          float64
	UpdatedAt          float64
}

// JobInput is one ordered input link resolved together with its asset.
type JobInput struct {
	Role     string
	OrderIdx int
	Asset    Asset
}

// JobOutput is one output link resolved together with its asset.
type JobOutput struct {
	Role  string
	Asset Asset
}

// JobView is a job joined with its release and channel for listings.
type JobView struct {
	Job
	ReleaseTitle   string
	ChannelSlug    string
	ChannelDisplay string
}

// Bundle carries everything a worker needs about one claimed job.
type Bundle struct {
	Job     Job
	Release Release
	Channel Channel
	Profile RenderProfile
}

// QAReport is the persisted result of one QA pass.
type QAReport struct {
	JobID            int64
	HardOK           bool
	Warnings         []string
	Info             []string
	Width            *int
	Height           *int
	FPS              *float64
	VideoCodec       *string
	AudioCodec       *string
	SampleRate       *int
	Channels         *int
	DurationExpected *float64
	DurationActual   *float64
	MeanVolumeDB     *float64
	MaxVolumeDB      *float64
	CreatedAt        float64
}

// Upload is the per-job record of the delivery to the upload target.
type Upload struct {
	JobID      int64
	VideoID    string
	URL        string
	EditURL    string
	Privacy    string
	UploadedAt *float64
	Error      *string
}

// Approval is one audit row for a human decision taken on a job.
type Approval struct {
	ID        int64
	JobID     int64
	Action    string
	Comment   string
	CreatedAt float64
}

// Draft is a user-composed release not yet submitted.
type Draft struct {
	ID             int64
	ChannelSlug    string
	Title          string
	TagsCSV        string
	BackgroundName string
	BackgroundExt  string
	CoverName      string
	CoverExt       string
	AudioIDs       string
	JobID          *int64
	CreatedAt      float64
	UpdatedAt      float64
}

// DraftInput is one resolved asset reference a draft materializes into a job
// input link.
type DraftInput struct {
	Asset    Asset
	Role     string
	OrderIdx int
}

// Heartbeat is one worker's liveness row.
type Heartbeat struct {
	WorkerID string
	Role     string
	PID      int
	Hostname string
	LastSeen float64
	Detail   string
}

// Track is one discovered catalog track of a channel.
type Track struct {
	ID        int64
	ChannelID int64
	TrackNo   string
	Title     string
	FileName  string
	OriginID  string
	CreatedAt float64
}

// TrackJob is one unit of the secondary track-catalog queue. It has its own
// small state set, declared in tracks.go.
type TrackJob struct {
	ID          int64
	ChannelID   int64
	State       string
	Priority    int
	Attempt     int
	LockedBy    *string
	LockedAt    *float64
	RetryAt     *float64
	ErrorReason *string
	CreatedAt   float64
	UpdatedAt   float64
}
