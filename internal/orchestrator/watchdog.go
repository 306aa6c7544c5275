package orchestrator

import (
	"fmt"
	"time"
)

// Watchdog detects a renderer that stopped writing output. It is fed the
// summed byte total of the expected artifact and its partial-write siblings
// and answers whether growth has stalled. It holds no process state, so it
// can be driven entirely by the caller's clock.
type Watchdog struct {
	start      time.Time
	grace      time.Duration
	idle       time.Duration
	minDelta   int64
	lastBytes  int64
	lastGrowth time.Time
	seeded     bool
}

// NewWatchdog creates a watchdog. No stuck verdict is given before grace has
// elapsed since start; after that, the renderer counts as stuck once idle has
// passed without a growth of at least minDelta bytes.
func NewWatchdog(start time.Time, grace, idle time.Duration, minDelta int64) *Watchdog {
	return &Watchdog{
		start:      start,
		grace:      grace,
		idle:       idle,
		minDelta:   minDelta,
		lastGrowth: start,
	}
}

// Update records a byte-total sample. The first sample seeds the baseline; a
// nonzero first sample also counts as growth. Later samples count as growth
// only when the total advanced by at least minDelta.
func (w *Watchdog) Update(totalBytes int64, now time.Time) {
	if !w.seeded {
		w.seeded = true
		w.lastBytes = totalBytes
		if totalBytes > 0 {
			w.lastGrowth = now
		}
		return
	}
	if totalBytes >= w.lastBytes+w.minDelta {
		w.lastBytes = totalBytes
		w.lastGrowth = now
	}
}

// Snapshot describes the last growth sample. It becomes the stored failure
// reason when a stuck render is killed.
func (w *Watchdog) Snapshot(now time.Time) string {
	return fmt.Sprintf("last output size %d bytes, no growth for %s",
		w.lastBytes, now.Sub(w.lastGrowth).Round(time.Second))
}

// IsStuck reports whether output growth has stalled past the idle window.
// Always false within the grace period.
func (w *Watchdog) IsStuck(now time.Time) bool {
	if now.Sub(w.start) < w.grace {
		return false
	}
	return now.Sub(w.lastGrowth) >= w.idle
}
