// Package media wraps the ffmpeg and ffprobe CLIs for probing release
// renders and cutting previews.
package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// Static errors for media operations.
var (
	// ErrFFprobeExecution is returned when ffprobe cannot be run at all.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrFormatMissing is returned when probe output has no format block.
	ErrFormatMissing = errors.New("probe output missing format information")
)

// StreamInfo describes one stream of a probed file.
type StreamInfo struct {
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
}

// ProbeResult is the subset of ffprobe output the QA gate inspects.
type ProbeResult struct {
	Format    string      `json:"format"`
	Duration  float64     `json:"duration"`
	SizeBytes int64       `json:"size_bytes"`
	Video     *StreamInfo `json:"video,omitempty"`
	Audio     *StreamInfo `json:"audio,omitempty"`
}

// Prober probes a media file on disk.
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// FFProbe implements Prober with the ffprobe CLI. Transient failures are
// retried with exponential backoff.
type FFProbe struct{}

// NewFFProbe returns a prober using the given ffprobe binary. An empty path
// keeps the library default.
func NewFFProbe(binPath string) FFProbe {
	if binPath != "" && binPath != "ffprobe" {
		ffprobe.SetFFProbeBinPath(binPath)
	}
	return FFProbe{}
}

// Probe runs ffprobe against path and parses the result.
func (FFProbe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(ctx, 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFFprobeExecution, path, err)
	}
	return parseProbeData(data)
}

func parseProbeData(data *ffprobe.ProbeData) (*ProbeResult, error) {
	if data.Format == nil {
		return nil, ErrFormatMissing
	}

	result := &ProbeResult{
		Format:   data.Format.FormatName,
		Duration: data.Format.DurationSeconds,
	}
	if size, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil {
		result.SizeBytes = size
	}

	if vs := data.FirstVideoStream(); vs != nil {
		fps, err := parseFps(vs.AvgFrameRate)
		if err != nil {
			return nil, fmt.Errorf("parse avg fps: %w", err)
		}
		if fps == 0 {
			if fps, err = parseFps(vs.RFrameRate); err != nil {
				return nil, fmt.Errorf("parse real fps: %w", err)
			}
		}
		duration, err := strconv.ParseFloat(vs.Duration, 64)
		if err != nil {
			duration = data.Format.DurationSeconds
		}
		result.Video = &StreamInfo{
			Codec:    vs.CodecName,
			Duration: duration,
			Width:    vs.Width,
			Height:   vs.Height,
			FPS:      fps,
		}
	}

	if as := data.FirstAudioStream(); as != nil {
		sampleRate, err := strconv.Atoi(as.SampleRate)
		if as.SampleRate != "" && err != nil {
			return nil, fmt.Errorf("parse sample rate from track %d: %w", as.Index, err)
		}
		duration, err := strconv.ParseFloat(as.Duration, 64)
		if err != nil {
			duration = data.Format.DurationSeconds
		}
		result.Audio = &StreamInfo{
			Codec:      as.CodecName,
			Duration:   duration,
			SampleRate: sampleRate,
			Channels:   as.Channels,
		}
	}

	return result, nil
}

// parseFps parses ffprobe frame rates, either a plain float or a fraction
// like "30000/1001".
func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("parse framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("parse framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("parse framerate denominator: %w", err)
	}
	if den == 0 {
		// 0/0 can be valid for a stream without timing info.
		if num == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("framerate %s has zero denominator", framerate)
	}
	return float64(num) / float64(den), nil
}

// Compile-time interface check.
var _ Prober = FFProbe{}
