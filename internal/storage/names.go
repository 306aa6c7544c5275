package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// SanitizeName reduces a string to the renderer-safe alphabet [A-Za-z0-9_.].
// Runs of other characters collapse into a single underscore. The function is
// idempotent: sanitizing twice yields the same result.
func SanitizeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_':
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
		default:
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "untitled"
	}
	return out
}

// TrackFileName builds the normalized workspace filename for the track at
// 1-based position idx: NNN_<safe title>.wav.
func TrackFileName(idx int, title string) string {
	safe := SanitizeName(strings.TrimSuffix(title, ".wav"))
	return fmt.Sprintf("%03d_%s.wav", idx, safe)
}

// TrackIDFor returns the zero-padded 3-digit track id for a 1-based position.
func TrackIDFor(idx int) string {
	return fmt.Sprintf("%03d", idx)
}

// NormalizeTrackID normalizes a user-typed track id token ("1", "01", "001")
// to the canonical 3-digit form. Tokens that are not positive integers are
// rejected.
func NormalizeTrackID(token string) (string, error) {
	t := strings.TrimSpace(token)
	n, err := strconv.Atoi(t)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid track id %q", token)
	}
	return fmt.Sprintf("%03d", n), nil
}
