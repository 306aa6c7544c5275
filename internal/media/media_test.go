package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFps(t *testing.T) {
	tests := []struct {
		name      string
		framerate string
		want      float64
		wantErr   bool
	}{
		{name: "empty", framerate: "", want: 0},
		{name: "plain float", framerate: "23.976", want: 23.976},
		{name: "integer fraction", framerate: "24/1", want: 24},
		{name: "ntsc fraction", framerate: "30000/1001", want: 29.97002997002997},
		{name: "zero over zero", framerate: "0/0", want: 0},
		{name: "nonzero over zero", framerate: "24/0", wantErr: true},
		{name: "garbage", framerate: "abc", wantErr: true},
		{name: "garbage numerator", framerate: "a/1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFps(tt.framerate)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseVolumedetect(t *testing.T) {
	stderr := `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'render.mp4':
[Parsed_volumedetect_0 @ 0x55d8] n_samples: 5292000
[Parsed_volumedetect_0 @ 0x55d8] mean_volume: -23.4 dB
[Parsed_volumedetect_0 @ 0x55d8] max_volume: -5.1 dB
[Parsed_volumedetect_0 @ 0x55d8] histogram_5db: 12
`

	loudness, err := parseVolumedetect(stderr)
	require.NoError(t, err)
	assert.InDelta(t, -23.4, loudness.MeanDB, 1e-9)
	assert.InDelta(t, -5.1, loudness.MaxDB, 1e-9)
}

func TestParseVolumedetect_NoReadings(t *testing.T) {
	_, err := parseVolumedetect("Output #0, null, to 'pipe:'\n")
	assert.ErrorIs(t, err, ErrLoudnessNotMeasured)
}

func TestParseVolumedetect_PartialReadings(t *testing.T) {
	_, err := parseVolumedetect("[Parsed_volumedetect_0 @ 0x1] mean_volume: -20.0 dB\n")
	assert.ErrorIs(t, err, ErrLoudnessNotMeasured)
}

func TestFFmpegError_Unwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &FFmpegError{Args: []string{"-i", "in.mp4"}, Stderr: "boom", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "boom")
}
