package storage

import "testing"

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Darkwood Reverie", "Darkwood_Reverie"},
		{"night/drive: vol.2", "night_drive_vol.2"},
		{"already_safe_01.wav", "already_safe_01.wav"},
		{"  spaced  out  ", "spaced_out"},
		{"___", "untitled"},
		{"", "untitled"},
		{"ünïcode", "n_code"},
	}

	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeName_Idempotent(t *testing.T) {
	inputs := []string{"Darkwood Reverie", "a b c", "x__y", "tr&ck #9", "", "clean.名前"}
	for _, in := range inputs {
		once := SanitizeName(in)
		twice := SanitizeName(once)
		if once != twice {
			t.Errorf("SanitizeName not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestTrackFileName(t *testing.T) {
	tests := []struct {
		idx   int
		title string
		want  string
	}{
		{1, "Night Drive", "001_Night_Drive.wav"},
		{15, "rain.wav", "015_rain.wav"},
		{120, "a/b", "120_a_b.wav"},
	}

	for _, tt := range tests {
		if got := TrackFileName(tt.idx, tt.title); got != tt.want {
			t.Errorf("TrackFileName(%d, %q) = %q, want %q", tt.idx, tt.title, got, tt.want)
		}
	}
}

func TestNormalizeTrackID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1", "001", false},
		{"01", "001", false},
		{"001", "001", false},
		{" 15 ", "015", false},
		{"120", "120", false},
		{"0", "", true},
		{"-3", "", true},
		{"abc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeTrackID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeTrackID(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeTrackID(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeTrackID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
