package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fatalPrefix on a renderer stdout line signals a broken input asset. The
// attempt is failed without retry because every retry would hit the same
// asset.
const fatalPrefix = "FATAL_IMAGE_INVALID:"

var percentLine = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*%\s*$`)

// RenderLine is one parsed line of renderer stdout.
type RenderLine struct {
	// Pct is the progress percent in [0, 100]; valid only when HasPct.
	Pct    float64
	HasPct bool
	// Fatal marks an unrecoverable asset error; Text carries the reason.
	Fatal bool
	// Text is the raw line for logging when it is not a progress line.
	Text string
}

// ParseRenderLine classifies one stdout line of the renderer child.
func ParseRenderLine(line string) RenderLine {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, fatalPrefix) {
		reason := strings.TrimSpace(strings.TrimPrefix(trimmed, fatalPrefix))
		return RenderLine{Fatal: true, Text: reason}
	}
	if m := percentLine.FindStringSubmatch(trimmed); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err == nil && pct >= 0 && pct <= 100 {
			return RenderLine{Pct: pct, HasPct: true}
		}
	}
	return RenderLine{Text: line}
}

// progressThrottle rate-limits progress writes to the store. A write goes
// through when the percent advanced by at least minPctStep or minInterval
// elapsed since the last write. The watermark keeps written percents
// monotone.
type progressThrottle struct {
	lastPct float64
	lastAt  time.Time
	seeded  bool
}

const (
	minPctStep  = 0.5
	minInterval = 2 * time.Second
)

func (p *progressThrottle) shouldWrite(pct float64, now time.Time) bool {
	if !p.seeded {
		p.seeded = true
		p.lastPct = pct
		p.lastAt = now
		return true
	}
	if pct < p.lastPct {
		return false
	}
	if pct >= p.lastPct+minPctStep || now.Sub(p.lastAt) >= minInterval {
		p.lastPct = pct
		p.lastAt = now
		return true
	}
	return false
}
