package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTube uploads renders as private videos through the Data API. A fresh
// service is built per upload because every channel carries its own OAuth
// token.
type YouTube struct {
	tokensDir          string
	globalClientSecret string
	globalToken        string
	logger             *slog.Logger
}

// NewYouTube creates the live backend.
func NewYouTube(tokensDir, globalClientSecret, globalToken string, logger *slog.Logger) *YouTube {
	return &YouTube{
		tokensDir:          tokensDir,
		globalClientSecret: globalClientSecret,
		globalToken:        globalToken,
		logger:             logger,
	}
}

// Name identifies the backend.
func (y *YouTube) Name() string { return "youtube" }

// Upload performs a private upload carrying the release metadata. The
// thumbnail is best-effort; its failure is logged and swallowed.
func (y *YouTube) Upload(ctx context.Context, req Request) (*Result, error) {
	svc, err := y.service(ctx, req.ChannelSlug)
	if err != nil {
		return nil, err
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        SanitizeTags(req.Tags),
			CategoryId:  "10",
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "private"},
	}

	mp4, err := os.Open(req.MP4Path) // #nosec G304 - path comes from the outbox layout
	if err != nil {
		return nil, fmt.Errorf("open mp4: %w", err)
	}
	defer func() { _ = mp4.Close() }()

	inserted, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(mp4).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("insert video: %w", err)
	}

	if req.CoverPath != "" {
		if err := y.setThumbnail(ctx, svc, inserted.Id, req.CoverPath); err != nil {
			y.logger.Warn("thumbnail upload failed", "video_id", inserted.Id, "error", err)
		}
	}

	return &Result{
		VideoID: inserted.Id,
		URL:     videoURL(inserted.Id),
		EditURL: editURL(inserted.Id),
		Privacy: "private",
	}, nil
}

func (y *YouTube) setThumbnail(ctx context.Context, svc *youtube.Service, videoID, coverPath string) error {
	cover, err := os.Open(coverPath) // #nosec G304 - path comes from the outbox layout
	if err != nil {
		return fmt.Errorf("open cover: %w", err)
	}
	defer func() { _ = cover.Close() }()

	_, err = svc.Thumbnails.Set(videoID).Media(cover).Context(ctx).Do()
	return err
}

// service builds an authenticated YouTube client for the channel. Any
// credentials or initialization problem is a CredentialsError so the caller
// treats it as terminal.
func (y *YouTube) service(ctx context.Context, slug string) (*youtube.Service, error) {
	creds, err := ResolveCredentials(y.tokensDir, y.globalClientSecret, y.globalToken, slug)
	if err != nil {
		return nil, err
	}

	secretData, err := os.ReadFile(creds.ClientSecretPath) // #nosec G304 - path comes from credential resolution
	if err != nil {
		return nil, &CredentialsError{ChannelSlug: slug, Detail: fmt.Sprintf("read client secret: %v", err)}
	}
	oauthCfg, err := google.ConfigFromJSON(secretData, youtube.YoutubeUploadScope)
	if err != nil {
		return nil, &CredentialsError{ChannelSlug: slug, Detail: fmt.Sprintf("parse client secret: %v", err)}
	}

	tokenData, err := os.ReadFile(creds.TokenPath) // #nosec G304 - path comes from credential resolution
	if err != nil {
		return nil, &CredentialsError{ChannelSlug: slug, Detail: fmt.Sprintf("read token: %v", err)}
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, &CredentialsError{ChannelSlug: slug, Detail: fmt.Sprintf("parse token: %v", err)}
	}

	client := oauthCfg.Client(ctx, &token)
	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, &CredentialsError{ChannelSlug: slug, Detail: fmt.Sprintf("init service: %v", err)}
	}
	return svc, nil
}

// Compile-time interface checks.
var (
	_ Backend = (*YouTube)(nil)
	_ Backend = Mock{}
)
