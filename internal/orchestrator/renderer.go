package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/castwave/release-factory/internal/lifecycle"
	"github.com/castwave/release-factory/internal/storage"
)

// errRenderCancelled aborts the attempt without counting it as a failure.
var errRenderCancelled = errors.New("render cancelled")

// errRenderStuck marks a watchdog kill; the attempt goes through the retry
// policy like any other operational failure.
var errRenderStuck = errors.New("render output stopped growing")

// fatalRenderError carries a renderer-reported asset error. It never retries.
type fatalRenderError struct {
	reason string
}

func (e *fatalRenderError) Error() string {
	return fatalPrefix + " " + e.reason
}

// runRenderer spawns the external renderer on the workspace and supervises it
// until exit. Three concurrent activities run meanwhile: the stdout reader
// dispatching progress, a watchdog ticker sampling output growth, and a
// cancellation poll against both the marker file and the store.
func (o *Orchestrator) runRenderer(ctx context.Context, jobID int64, ws *storage.Workspace) error {
	// #nosec G204 - the renderer binary comes from configuration
	cmd := exec.Command(o.cfg.RendererBin, ws.Dir)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("renderer stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start renderer: %w", err)
	}

	var (
		mu          sync.Mutex
		fatalReason string
		cancelled   bool
	)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		throttle := &progressThrottle{}
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := ParseRenderLine(scanner.Text())
			switch {
			case line.Fatal:
				mu.Lock()
				fatalReason = line.Text
				mu.Unlock()
				_ = o.layout.AppendJobLog(jobID, fatalPrefix+" "+line.Text)
			case line.HasPct:
				if throttle.shouldWrite(line.Pct, time.Now()) {
					text := fmt.Sprintf("rendering %.1f%%", line.Pct)
					if err := o.store.SetProgress(ctx, jobID, line.Pct, text); err != nil {
						o.logger.Warn("progress write failed", "job_id", jobID, "error", err)
					}
				}
			default:
				_ = o.layout.AppendJobLog(jobID, line.Text)
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() {
		<-readerDone
		waitDone <- cmd.Wait()
	}()

	start := time.Now()
	watchdog := NewWatchdog(start,
		time.Duration(o.cfg.WatchdogGraceSec)*time.Second,
		time.Duration(o.cfg.WatchdogIdleSec)*time.Second,
		o.cfg.WatchdogMinDeltaBytes,
	)
	killAfter := time.Duration(o.cfg.WatchdogKillAfterSec) * time.Second

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var stuckErr error
	tick := 0
	for {
		select {
		case err := <-waitDone:
			mu.Lock()
			reason := fatalReason
			wasCancelled := cancelled
			mu.Unlock()
			switch {
			case wasCancelled:
				return errRenderCancelled
			case reason != "":
				return &fatalRenderError{reason: reason}
			case stuckErr != nil:
				return stuckErr
			case err != nil:
				return fmt.Errorf("renderer exited: %w", err)
			}
			return nil

		case <-ctx.Done():
			o.terminate(cmd, killAfter)
			<-waitDone
			return ctx.Err()

		case now := <-ticker.C:
			tick++
			if o.cancelRequested(ctx, jobID, ws) {
				mu.Lock()
				cancelled = true
				mu.Unlock()
				o.terminate(cmd, killAfter)
				<-waitDone
				return errRenderCancelled
			}
			if tick%2 == 0 {
				watchdog.Update(ws.ReleaseOutputBytes(), now)
				if watchdog.IsStuck(now) {
					snapshot := watchdog.Snapshot(now)
					stuckErr = fmt.Errorf("%w: %s", errRenderStuck, snapshot)
					o.logger.Warn("render watchdog fired", "job_id", jobID, "sample", snapshot)
					o.terminate(cmd, killAfter)
					<-waitDone
					return stuckErr
				}
			}
		}
	}
}

// cancelRequested polls the workspace marker and the store row.
func (o *Orchestrator) cancelRequested(ctx context.Context, jobID int64, ws *storage.Workspace) bool {
	if ws.CancelRequested() {
		return true
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.State == lifecycle.StateCancelled
}

// terminate asks the child to exit and kills it after the grace window.
func (o *Orchestrator) terminate(cmd *exec.Cmd, killAfter time.Duration) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	go func(proc interface{ Kill() error }) {
		time.Sleep(killAfter)
		_ = proc.Kill()
	}(cmd.Process)
}
