// Package config provides configuration loading from environment variables
// and from the YAML policy and channel roster files.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/castwave/release-factory/internal/lifecycle"
)

// Static errors for configuration validation.
var (
	// ErrStorageRootRequired is returned when STORAGE_ROOT is not set.
	ErrStorageRootRequired = errors.New("config: STORAGE_ROOT is required")
	// ErrOriginLocalRootRequired is returned when the local origin backend is
	// selected without ORIGIN_LOCAL_ROOT.
	ErrOriginLocalRootRequired = errors.New("config: ORIGIN_LOCAL_ROOT is required for the local origin backend")
	// ErrOriginDriveRootRequired is returned when the gdrive origin backend is
	// selected without ORIGIN_GDRIVE_ROOT_ID.
	ErrOriginDriveRootRequired = errors.New("config: ORIGIN_GDRIVE_ROOT_ID is required for the gdrive origin backend")
	// ErrOriginS3BucketRequired is returned when the s3 origin backend is
	// selected without ORIGIN_S3_BUCKET.
	ErrOriginS3BucketRequired = errors.New("config: ORIGIN_S3_BUCKET is required for the s3 origin backend")
	// ErrUnknownOriginBackend is returned for an unrecognized ORIGIN_BACKEND value.
	ErrUnknownOriginBackend = errors.New("config: unknown origin backend")
	// ErrUnknownUploadBackend is returned for an unrecognized UPLOAD_BACKEND value.
	ErrUnknownUploadBackend = errors.New("config: unknown upload backend")
	// ErrAPIPasswordRequired is returned by the API binary when API_PASSWORD
	// is not set. The basic auth guard fails closed without it.
	ErrAPIPasswordRequired = errors.New("config: API_PASSWORD is required")
)

// Config holds all configuration for the factory processes. It is loaded once
// at startup and injected into every worker; nothing reads the environment
// after that.
type Config struct {
	// Storage settings
	StorageRoot string `env:"STORAGE_ROOT, required" json:"storage_root"`
	DBPath      string `env:"DB_PATH" json:"db_path"` // Defaults to <storage_root>/factory.db

	// Origin settings
	OriginBackend      string `env:"ORIGIN_BACKEND, default=local" json:"origin_backend"` // "local", "gdrive" or "s3"
	OriginLocalRoot    string `env:"ORIGIN_LOCAL_ROOT" json:"origin_local_root,omitempty"`
	OriginDriveRootID  string `env:"ORIGIN_GDRIVE_ROOT_ID" json:"origin_gdrive_root_id,omitempty"`
	OriginDriveCreds   string `env:"ORIGIN_GDRIVE_CREDENTIALS" json:"origin_gdrive_credentials,omitempty"`
	OriginS3Bucket     string `env:"ORIGIN_S3_BUCKET" json:"origin_s3_bucket,omitempty"`
	OriginS3Region     string `env:"ORIGIN_S3_REGION" json:"origin_s3_region,omitempty"`
	OriginS3Prefix     string `env:"ORIGIN_S3_PREFIX" json:"origin_s3_prefix,omitempty"`
	OriginS3Endpoint   string `env:"ORIGIN_S3_ENDPOINT" json:"origin_s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Upload settings
	UploadBackend      string `env:"UPLOAD_BACKEND, default=mock" json:"upload_backend"` // "youtube" or "mock"
	YTTokensDir        string `env:"YT_TOKENS_DIR" json:"yt_tokens_dir,omitempty"`
	YTClientSecretJSON string `env:"YT_CLIENT_SECRET_JSON" json:"-"` // Masked in JSON
	YTTokenJSON        string `env:"YT_TOKEN_JSON" json:"-"`         // Masked in JSON

	// External tools
	RendererBin string `env:"RENDERER_BIN, default=release-render" json:"renderer_bin"`
	FFmpegBin   string `env:"FFMPEG_BIN, default=ffmpeg" json:"ffmpeg_bin"`
	FFprobeBin  string `env:"FFPROBE_BIN, default=ffprobe" json:"ffprobe_bin"`

	// Scheduling settings
	JobLockTTLSec     int `env:"JOB_LOCK_TTL_SEC, default=43200" json:"job_lock_ttl_sec"`
	RetryBackoffSec   int `env:"RETRY_BACKOFF_SEC, default=300" json:"retry_backoff_sec"`
	MaxRenderAttempts int `env:"MAX_RENDER_ATTEMPTS, default=3" json:"max_render_attempts"`
	MaxUploadAttempts int `env:"MAX_UPLOAD_ATTEMPTS, default=3" json:"max_upload_attempts"`
	WorkerSleepSec    int `env:"WORKER_SLEEP_SEC, default=5" json:"worker_sleep_sec"`

	// Render watchdog settings
	WatchdogIdleSec       int   `env:"RENDER_WATCHDOG_IDLE_SEC, default=300" json:"watchdog_idle_sec"`
	WatchdogGraceSec      int   `env:"RENDER_WATCHDOG_GRACE_SEC, default=600" json:"watchdog_grace_sec"`
	WatchdogMinDeltaBytes int64 `env:"RENDER_WATCHDOG_MIN_DELTA_BYTES, default=65536" json:"watchdog_min_delta_bytes"`
	WatchdogKillAfterSec  int   `env:"RENDER_WATCHDOG_KILL_AFTER_SEC, default=30" json:"watchdog_kill_after_sec"`

	// QA settings
	QAVolumedetectSeconds int    `env:"QA_VOLUMEDETECT_SECONDS, default=60" json:"qa_volumedetect_seconds"`
	PoliciesPath          string `env:"POLICIES_PATH" json:"policies_path,omitempty"`
	ChannelsPath          string `env:"CHANNELS_PATH" json:"channels_path,omitempty"`

	// API settings
	Port        int    `env:"PORT, default=8080" json:"port"`
	APIUser     string `env:"API_USER, default=admin" json:"api_user"`
	APIPassword string `env:"API_PASSWORD" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "STORAGE_ROOT") {
			return nil, ErrStorageRootRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.StorageRoot, "factory.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the selected backends have the settings they need.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return ErrStorageRootRequired
	}
	switch c.OriginBackend {
	case "local":
		if c.OriginLocalRoot == "" {
			return ErrOriginLocalRootRequired
		}
	case "gdrive":
		if c.OriginDriveRootID == "" {
			return ErrOriginDriveRootRequired
		}
	case "s3":
		if c.OriginS3Bucket == "" {
			return ErrOriginS3BucketRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOriginBackend, c.OriginBackend)
	}
	switch c.UploadBackend {
	case "youtube", "mock":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUploadBackend, c.UploadBackend)
	}
	return nil
}

// LockTTL returns the job lease duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.JobLockTTLSec) * time.Second
}

// RetryBackoff returns the delay before a failed job becomes claimable again.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSec) * time.Second
}

// WorkerSleep returns the pause between worker cycles.
func (c *Config) WorkerSleep() time.Duration {
	return time.Duration(c.WorkerSleepSec) * time.Second
}

// MaxAttemptsFor returns the attempt budget for a pipeline stage.
func (c *Config) MaxAttemptsFor(stage lifecycle.Stage) int {
	switch stage {
	case lifecycle.StageUpload:
		return c.MaxUploadAttempts
	default:
		return c.MaxRenderAttempts
	}
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{StorageRoot: %s, DBPath: %s, OriginBackend: %s, UploadBackend: %s, Port: %d, LockTTL: %ds, Backoff: %ds, LogFormat: %s, LogLevel: %s}",
		c.StorageRoot,
		c.DBPath,
		c.OriginBackend,
		c.UploadBackend,
		c.Port,
		c.JobLockTTLSec,
		c.RetryBackoffSec,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
