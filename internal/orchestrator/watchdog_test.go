package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdog_QuietWithinGrace(t *testing.T) {
	start := time.Now()
	w := NewWatchdog(start, 10*time.Minute, 5*time.Minute, 65536)

	// No output at all, but grace has not elapsed.
	assert.False(t, w.IsStuck(start.Add(9*time.Minute+59*time.Second)))
}

func TestWatchdog_StuckAfterGraceWithoutGrowth(t *testing.T) {
	start := time.Now()
	w := NewWatchdog(start, 10*time.Minute, 5*time.Minute, 65536)

	assert.True(t, w.IsStuck(start.Add(10*time.Minute)))
}

func TestWatchdog_GrowthResetsIdleWindow(t *testing.T) {
	start := time.Now()
	w := NewWatchdog(start, 1*time.Minute, 5*time.Minute, 65536)

	w.Update(0, start)
	w.Update(100_000, start.Add(2*time.Minute))

	assert.False(t, w.IsStuck(start.Add(6*time.Minute)))
	assert.True(t, w.IsStuck(start.Add(7*time.Minute)))
}

func TestWatchdog_SmallDeltaDoesNotCountAsGrowth(t *testing.T) {
	start := time.Now()
	w := NewWatchdog(start, 1*time.Minute, 5*time.Minute, 65536)

	w.Update(100_000, start)
	// Creeping by less than min delta never refreshes the growth time.
	w.Update(100_100, start.Add(2*time.Minute))
	w.Update(100_200, start.Add(4*time.Minute))

	assert.True(t, w.IsStuck(start.Add(5*time.Minute)))
}

func TestWatchdog_NonzeroFirstSampleCountsAsGrowth(t *testing.T) {
	start := time.Now()
	w := NewWatchdog(start, 1*time.Minute, 5*time.Minute, 65536)

	w.Update(500_000, start.Add(3*time.Minute))

	assert.False(t, w.IsStuck(start.Add(7*time.Minute)))
	assert.True(t, w.IsStuck(start.Add(8*time.Minute)))
}

func TestWatchdog_ZeroFirstSampleKeepsStartBaseline(t *testing.T) {
	start := time.Now()
	w := NewWatchdog(start, 1*time.Minute, 5*time.Minute, 65536)

	w.Update(0, start.Add(3*time.Minute))

	assert.True(t, w.IsStuck(start.Add(5*time.Minute)))
}

func TestWatchdog_SnapshotCarriesLastSample(t *testing.T) {
	start := time.Now()
	w := NewWatchdog(start, 1*time.Minute, 5*time.Minute, 65536)

	w.Update(500_000, start.Add(2*time.Minute))
	w.Update(500_000, start.Add(4*time.Minute))

	got := w.Snapshot(start.Add(8 * time.Minute))
	assert.Contains(t, got, "500000 bytes")
	assert.Contains(t, got, "6m0s")
}
