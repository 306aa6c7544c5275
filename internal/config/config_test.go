package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castwave/release-factory/internal/lifecycle"
)

func TestLoad_RequiredVariables(t *testing.T) {
	clearEnv := func() {
		os.Unsetenv("STORAGE_ROOT")
		os.Unsetenv("DB_PATH")
		os.Unsetenv("ORIGIN_BACKEND")
		os.Unsetenv("ORIGIN_LOCAL_ROOT")
		os.Unsetenv("UPLOAD_BACKEND")
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_FORMAT")
		os.Unsetenv("LOG_LEVEL")
	}

	t.Run("missing STORAGE_ROOT returns error", func(t *testing.T) {
		clearEnv()

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStorageRootRequired)
	})

	t.Run("local backend requires ORIGIN_LOCAL_ROOT", func(t *testing.T) {
		clearEnv()
		t.Setenv("STORAGE_ROOT", "/var/lib/factory")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOriginLocalRootRequired)
	})

	t.Run("all required variables present succeeds", func(t *testing.T) {
		clearEnv()
		t.Setenv("STORAGE_ROOT", "/var/lib/factory")
		t.Setenv("ORIGIN_LOCAL_ROOT", "/srv/origin")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/factory", cfg.StorageRoot)
		assert.Equal(t, "/srv/origin", cfg.OriginLocalRoot)
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_ROOT", "/var/lib/factory")
	t.Setenv("ORIGIN_LOCAL_ROOT", "/srv/origin")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/var/lib/factory", "factory.db"), cfg.DBPath)
	assert.Equal(t, "local", cfg.OriginBackend)
	assert.Equal(t, "mock", cfg.UploadBackend)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 43200, cfg.JobLockTTLSec)
	assert.Equal(t, 300, cfg.RetryBackoffSec)
	assert.Equal(t, 3, cfg.MaxRenderAttempts)
	assert.Equal(t, 3, cfg.MaxUploadAttempts)
	assert.Equal(t, 5, cfg.WorkerSleepSec)
	assert.Equal(t, 60, cfg.QAVolumedetectSeconds)
	assert.Equal(t, 300, cfg.WatchdogIdleSec)
	assert.Equal(t, 600, cfg.WatchdogGraceSec)
	assert.Equal(t, int64(65536), cfg.WatchdogMinDeltaBytes)
	assert.Equal(t, "release-render", cfg.RendererBin)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("STORAGE_ROOT", "/data/factory")
	t.Setenv("DB_PATH", "/data/other.db")
	t.Setenv("ORIGIN_BACKEND", "s3")
	t.Setenv("ORIGIN_S3_BUCKET", "releases")
	t.Setenv("ORIGIN_S3_REGION", "eu-west-1")
	t.Setenv("UPLOAD_BACKEND", "youtube")
	t.Setenv("YT_TOKENS_DIR", "/etc/factory/tokens")
	t.Setenv("JOB_LOCK_TTL_SEC", "600")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/other.db", cfg.DBPath)
	assert.Equal(t, "s3", cfg.OriginBackend)
	assert.Equal(t, "releases", cfg.OriginS3Bucket)
	assert.Equal(t, "youtube", cfg.UploadBackend)
	assert.Equal(t, "/etc/factory/tokens", cfg.YTTokensDir)
	assert.Equal(t, 600, cfg.JobLockTTLSec)
	assert.Equal(t, 10*time.Minute, cfg.LockTTL())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("unknown origin backend", func(t *testing.T) {
		cfg := &Config{StorageRoot: "/x", OriginBackend: "ftp", UploadBackend: "mock"}
		assert.ErrorIs(t, cfg.Validate(), ErrUnknownOriginBackend)
	})

	t.Run("unknown upload backend", func(t *testing.T) {
		cfg := &Config{StorageRoot: "/x", OriginBackend: "local", OriginLocalRoot: "/o", UploadBackend: "vimeo"}
		assert.ErrorIs(t, cfg.Validate(), ErrUnknownUploadBackend)
	})

	t.Run("gdrive requires root id", func(t *testing.T) {
		cfg := &Config{StorageRoot: "/x", OriginBackend: "gdrive", UploadBackend: "mock"}
		assert.ErrorIs(t, cfg.Validate(), ErrOriginDriveRootRequired)
	})

	t.Run("s3 requires bucket", func(t *testing.T) {
		cfg := &Config{StorageRoot: "/x", OriginBackend: "s3", UploadBackend: "mock"}
		assert.ErrorIs(t, cfg.Validate(), ErrOriginS3BucketRequired)
	})
}

func TestConfig_MaxAttemptsFor(t *testing.T) {
	cfg := &Config{MaxRenderAttempts: 3, MaxUploadAttempts: 5}

	assert.Equal(t, 3, cfg.MaxAttemptsFor(lifecycle.StageRender))
	assert.Equal(t, 3, cfg.MaxAttemptsFor(lifecycle.StageQA))
	assert.Equal(t, 5, cfg.MaxAttemptsFor(lifecycle.StageUpload))
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		StorageRoot:        "/var/lib/factory",
		DBPath:             "/var/lib/factory/factory.db",
		OriginBackend:      "local",
		UploadBackend:      "mock",
		Port:               8080,
		APIPassword:        "hunter2",
		YTClientSecretJSON: "/secret/client.json",
		AWSSecretAccessKey: "aws-secret",
	}

	str := cfg.String()

	assert.Contains(t, str, "/var/lib/factory")
	assert.Contains(t, str, "8080")

	assert.NotContains(t, str, "hunter2")
	assert.NotContains(t, str, "aws-secret")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)

	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	testLogger := slog.New(handler)
	testLogger.Info("test message")

	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		p, err := LoadPolicies("")
		require.NoError(t, err)
		assert.Equal(t, 24.0, p.QA.FPSTarget)
		assert.Equal(t, 2.0, p.QA.DurationDiffHardFailSec)
		assert.True(t, p.QA.WarningBlocksPipeline)
		assert.Equal(t, 60, p.Preview.Seconds)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.yaml")
		content := "qa:\n  fps_target: 30\n  warning_blocks_pipeline: false\npreview:\n  seconds: 30\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		p, err := LoadPolicies(path)
		require.NoError(t, err)
		assert.Equal(t, 30.0, p.QA.FPSTarget)
		assert.False(t, p.QA.WarningBlocksPipeline)
		assert.Equal(t, 30, p.Preview.Seconds)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := LoadPolicies("/nonexistent/policies.yaml")
		require.Error(t, err)
	})
}

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	content := `channels:
  - slug: darkwood-reverie
    display_name: Darkwood Reverie
    render_profile: hd24
render_profiles:
  hd24:
    width: 1920
    height: 1080
    fps: 24
    video_codec: h264
    audio_rate: 48000
    audio_channels: 2
    audio_codec: aac
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadRoster(path)
	require.NoError(t, err)
	require.Len(t, r.Channels, 1)
	assert.Equal(t, "darkwood-reverie", r.Channels[0].Slug)
	assert.Equal(t, "Darkwood Reverie", r.Channels[0].DisplayName)
	require.Contains(t, r.Profiles, "hd24")
	assert.Equal(t, 1920, r.Profiles["hd24"].Width)
	assert.Equal(t, 24.0, r.Profiles["hd24"].FPS)
}
