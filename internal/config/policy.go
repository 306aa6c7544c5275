package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// QAPolicy holds the thresholds the QA gate compares probe results against.
type QAPolicy struct {
	FPSTarget               float64 `yaml:"fps_target"`
	FPSTolerance            float64 `yaml:"fps_tolerance"`
	DurationDiffHardFailSec float64 `yaml:"duration_diff_hard_fail_sec"`
	WarnMaxDB               float64 `yaml:"warn_max_db"`
	WarnMeanHighDB          float64 `yaml:"warn_mean_high_db"`
	WarnMeanLowDB           float64 `yaml:"warn_mean_low_db"`
	WarningBlocksPipeline   bool    `yaml:"warning_blocks_pipeline"`
}

// PreviewPolicy holds the parameters of the short approval preview render.
type PreviewPolicy struct {
	Seconds      int    `yaml:"seconds"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`
	VideoBitrate string `yaml:"video_bitrate"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

// Policies is the content of the YAML policy file.
type Policies struct {
	QA      QAPolicy      `yaml:"qa"`
	Preview PreviewPolicy `yaml:"preview"`
}

// DefaultPolicies returns the thresholds used when no policy file is configured.
func DefaultPolicies() Policies {
	return Policies{
		QA: QAPolicy{
			FPSTarget:               24,
			FPSTolerance:            0.5,
			DurationDiffHardFailSec: 2.0,
			WarnMaxDB:               -0.1,
			WarnMeanHighDB:          -10,
			WarnMeanLowDB:           -55,
			WarningBlocksPipeline:   true,
		},
		Preview: PreviewPolicy{
			Seconds:      60,
			Width:        640,
			Height:       360,
			FPS:          24,
			VideoBitrate: "800k",
			AudioBitrate: "96k",
		},
	}
}

// LoadPolicies reads the policy file at path, or returns defaults when path
// is empty. Missing fields keep their default values.
func LoadPolicies(path string) (Policies, error) {
	p := DefaultPolicies()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return p, fmt.Errorf("read policies: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policies: %w", err)
	}
	return p, nil
}

// ChannelSpec is one tenant entry in the channel roster file.
type ChannelSpec struct {
	Slug             string `yaml:"slug"`
	DisplayName      string `yaml:"display_name"`
	RenderProfile    string `yaml:"render_profile"`
	Autopublish      bool   `yaml:"autopublish"`
	YouTubeChannelID string `yaml:"youtube_channel_id"`
}

// ProfileSpec is one render profile entry in the channel roster file.
type ProfileSpec struct {
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	FPS           float64 `yaml:"fps"`
	VideoCodec    string  `yaml:"video_codec"`
	AudioRate     int     `yaml:"audio_rate"`
	AudioChannels int     `yaml:"audio_channels"`
	AudioCodec    string  `yaml:"audio_codec"`
}

// Roster is the content of the YAML channel roster file. The importer syncs
// it into the store at startup.
type Roster struct {
	Channels []ChannelSpec          `yaml:"channels"`
	Profiles map[string]ProfileSpec `yaml:"render_profiles"`
}

// LoadRoster reads the channel roster file at path. An empty path yields an
// empty roster; the store's existing rows then stand alone.
func LoadRoster(path string) (Roster, error) {
	var r Roster
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return r, fmt.Errorf("read roster: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse roster: %w", err)
	}
	return r, nil
}
