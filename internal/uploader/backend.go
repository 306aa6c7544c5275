// Package uploader delivers finished renders to the upload target and parks
// the job behind the human approval gate.
package uploader

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Request carries everything one upload needs.
type Request struct {
	ChannelSlug string
	Title       string
	Description string
	Tags        []string
	MP4Path     string
	// CoverPath, when set, is uploaded as the thumbnail on a best-effort
	// basis.
	CoverPath string
}

// Result is the outcome of a successful upload.
type Result struct {
	VideoID string
	URL     string
	EditURL string
	Privacy string
}

// Backend performs the actual delivery.
type Backend interface {
	Name() string
	Upload(ctx context.Context, req Request) (*Result, error)
}

// Mock is the offline backend. It fabricates ids without touching the
// network.
type Mock struct{}

// Name identifies the backend.
func (Mock) Name() string { return "mock" }

// Upload assigns a synthetic video id.
func (Mock) Upload(_ context.Context, _ Request) (*Result, error) {
	id := "mock-" + uuid.NewString()[:8]
	return &Result{
		VideoID: id,
		URL:     "https://www.youtube.com/watch?v=" + id,
		EditURL: "https://studio.youtube.com/video/" + id + "/edit",
		Privacy: "private",
	}, nil
}

// SanitizeTags drops characters the upload target rejects and empty entries.
func SanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		cleaned := strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(tag))
		if cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// videoURL returns the canonical watch URL for an uploaded id.
func videoURL(id string) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", id)
}

// editURL returns the studio edit URL for an uploaded id.
func editURL(id string) string {
	return fmt.Sprintf("https://studio.youtube.com/video/%s/edit", id)
}
