// Package bootstrap provides dependency initialization for the factory
// binaries. Both the API server and the worker share the same wiring.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
	"github.com/castwave/release-factory/internal/uploader"
)

// Dependencies holds all initialized shared dependencies.
type Dependencies struct {
	Store    *store.Store
	Layout   *storage.Layout
	Origin   origin.Origin
	Backend  uploader.Backend
	Policies config.Policies
}

// NewDependencies creates and initializes all dependencies for the
// application, then syncs the channel roster into the store.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	layout, err := storage.NewLayout(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("create storage layout: %w", err)
	}

	org, err := initOrigin(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	policies, err := config.LoadPolicies(cfg.PoliciesPath)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	if err := syncRoster(ctx, st, cfg.ChannelsPath, logger); err != nil {
		return nil, err
	}

	backend, err := initBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		Store:    st,
		Layout:   layout,
		Origin:   org,
		Backend:  backend,
		Policies: policies,
	}, nil
}

// Close releases the shared resources.
func (d *Dependencies) Close() error {
	return d.Store.Close()
}

// initOrigin creates the input backend selected by configuration.
func initOrigin(ctx context.Context, cfg *config.Config, logger *slog.Logger) (origin.Origin, error) {
	switch cfg.OriginBackend {
	case "local":
		org, err := origin.NewLocal(cfg.OriginLocalRoot)
		if err != nil {
			return nil, fmt.Errorf("create local origin: %w", err)
		}
		logger.Info("local origin configured", slog.String("root", cfg.OriginLocalRoot))
		return org, nil
	case "gdrive":
		org, err := origin.NewDrive(ctx, cfg.OriginDriveCreds, cfg.OriginDriveRootID)
		if err != nil {
			return nil, fmt.Errorf("create drive origin: %w", err)
		}
		logger.Info("drive origin configured", slog.String("root_id", cfg.OriginDriveRootID))
		return org, nil
	case "s3":
		org, err := origin.NewS3(ctx, origin.S3Config{
			Bucket:          cfg.OriginS3Bucket,
			Region:          cfg.OriginS3Region,
			Prefix:          cfg.OriginS3Prefix,
			Endpoint:        cfg.OriginS3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 origin: %w", err)
		}
		logger.Info("s3 origin configured",
			slog.String("bucket", cfg.OriginS3Bucket),
			slog.String("prefix", cfg.OriginS3Prefix),
		)
		return org, nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownOriginBackend, cfg.OriginBackend)
	}
}

// initBackend creates the upload backend selected by configuration.
func initBackend(cfg *config.Config, logger *slog.Logger) (uploader.Backend, error) {
	switch cfg.UploadBackend {
	case "mock":
		logger.Info("mock upload backend configured")
		return uploader.Mock{}, nil
	case "youtube":
		logger.Info("youtube upload backend configured", slog.String("tokens_dir", cfg.YTTokensDir))
		return uploader.NewYouTube(cfg.YTTokensDir, cfg.YTClientSecretJSON, cfg.YTTokenJSON, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownUploadBackend, cfg.UploadBackend)
	}
}

// syncRoster loads the YAML channel roster and upserts its profiles and
// channels. An empty path leaves the store's existing rows alone.
func syncRoster(ctx context.Context, st *store.Store, path string, logger *slog.Logger) error {
	roster, err := config.LoadRoster(path)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	for name, p := range roster.Profiles {
		err := st.UpsertRenderProfile(ctx, store.RenderProfile{
			Name:          name,
			Width:         p.Width,
			Height:        p.Height,
			FPS:           p.FPS,
			VideoCodec:    p.VideoCodec,
			AudioRate:     p.AudioRate,
			AudioChannels: p.AudioChannels,
			AudioCodec:    p.AudioCodec,
		})
		if err != nil {
			return fmt.Errorf("sync profile %s: %w", name, err)
		}
	}
	for _, spec := range roster.Channels {
		ch := store.Channel{
			Slug:          spec.Slug,
			DisplayName:   spec.DisplayName,
			RenderProfile: spec.RenderProfile,
			Autopublish:   spec.Autopublish,
		}
		if spec.YouTubeChannelID != "" {
			id := spec.YouTubeChannelID
			ch.YouTubeChannelID = &id
		}
		if _, err := st.UpsertChannel(ctx, ch); err != nil {
			return fmt.Errorf("sync channel %s: %w", spec.Slug, err)
		}
		logger.Info("channel synced", slog.String("slug", spec.Slug))
	}
	return nil
}
