package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrLoudnessNotMeasured is returned when volumedetect produced no readings,
// typically because the file has no audio stream.
var ErrLoudnessNotMeasured = errors.New("volumedetect produced no readings")

// FFmpeg runs ffmpeg CLI operations.
type FFmpeg struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpeg creates a new FFmpeg runner.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpeg(ffmpegPath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath}
}

// PreviewSpec describes the preview clip cut from a finished render.
type PreviewSpec struct {
	Seconds      int
	Width        int
	Height       int
	FPS          int
	VideoBitrate string
	AudioBitrate string
}

// CutPreview cuts the first Seconds of src into a small approval clip at dst.
// The frame is scaled to fit the target size with black padding so the
// preview keeps the source aspect ratio.
func (f *FFmpeg) CutPreview(ctx context.Context, src, dst string, spec PreviewSpec) error {
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,fps=%d",
		spec.Width, spec.Height, spec.Width, spec.Height, spec.FPS,
	)

	args := []string{
		"-y",
		"-i", src,
		"-t", strconv.Itoa(spec.Seconds),
		"-vf", filter,
		"-c:v", "libx264",
		"-preset", "fast",
		"-b:v", spec.VideoBitrate,
		"-c:a", "aac",
		"-b:a", spec.AudioBitrate,
		"-movflags", "+faststart",
		dst,
	}

	_, err := f.run(ctx, args)
	return err
}

// Loudness holds the volumedetect readings over the measured window.
type Loudness struct {
	MeanDB float64 `json:"mean_db"`
	MaxDB  float64 `json:"max_db"`
}

// MeasureLoudness runs the volumedetect filter over the first seconds of src
// and parses mean and max volume from ffmpeg's stderr.
func (f *FFmpeg) MeasureLoudness(ctx context.Context, src string, seconds int) (*Loudness, error) {
	args := []string{
		"-hide_banner",
		"-t", strconv.Itoa(seconds),
		"-i", src,
		"-vn",
		"-af", "volumedetect",
		"-f", "null", "-",
	}

	stderr, err := f.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseVolumedetect(stderr)
}

// parseVolumedetect extracts mean_volume and max_volume from volumedetect
// stderr output.
func parseVolumedetect(stderr string) (*Loudness, error) {
	var (
		loudness Loudness
		haveMean bool
		haveMax  bool
	)
	for _, line := range strings.Split(stderr, "\n") {
		if idx := strings.Index(line, "mean_volume:"); idx >= 0 {
			if v, ok := parseDB(line[idx+len("mean_volume:"):]); ok {
				loudness.MeanDB = v
				haveMean = true
			}
		}
		if idx := strings.Index(line, "max_volume:"); idx >= 0 {
			if v, ok := parseDB(line[idx+len("max_volume:"):]); ok {
				loudness.MaxDB = v
				haveMax = true
			}
		}
	}
	if !haveMean || !haveMax {
		return nil, ErrLoudnessNotMeasured
	}
	return &loudness, nil
}

func parseDB(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "dB"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// run executes ffmpeg with the given arguments and returns its stderr output.
func (f *FFmpeg) run(ctx context.Context, args []string) (string, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return "", &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stderr.String(), nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
