// Package worker runs a pipeline role in a loop. Each role exposes a Cycle
// function that performs one unit of work; the runner adds the heartbeat, the
// pause between cycles and graceful shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/castwave/release-factory/internal/store"
)

// CycleFunc performs one unit of a role's work. Returning an error logs it
// and keeps the loop alive; only context cancellation stops a runner.
type CycleFunc func(ctx context.Context) error

// Runner drives one role.
type Runner struct {
	store    *store.Store
	role     string
	workerID string
	cycle    CycleFunc
	sleep    time.Duration
	logger   *slog.Logger
}

// NewID mints a worker identity for a role. The same id must be used for the
// role's queue locks and for its runner so leases and heartbeats line up.
func NewID(role string) string {
	return fmt.Sprintf("%s-%s", role, uuid.NewString()[:8])
}

// NewRunner creates a runner around a role's cycle function.
func NewRunner(st *store.Store, role, id string, cycle CycleFunc, sleep time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		store:    st,
		role:     role,
		workerID: id,
		cycle:    cycle,
		sleep:    sleep,
		logger:   logger.With("role", role, "worker_id", id),
	}
}

// WorkerID returns the identity used for queue locks and heartbeats.
func (r *Runner) WorkerID() string { return r.workerID }

// Run loops until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	hostname, _ := os.Hostname()
	r.logger.Info("worker starting", "hostname", hostname, "pid", os.Getpid())

	for {
		r.Once(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info("worker stopping")
			return ctx.Err()
		case <-time.After(r.sleep):
		}
	}
}

// Once performs a single heartbeat-and-cycle pass. The single-shot CLI mode
// calls this directly.
func (r *Runner) Once(ctx context.Context) {
	hostname, _ := os.Hostname()
	hb := store.Heartbeat{
		WorkerID: r.workerID,
		Role:     r.role,
		PID:      os.Getpid(),
		Hostname: hostname,
	}
	if err := r.store.TouchWorker(ctx, hb); err != nil {
		r.logger.Error("heartbeat failed", "error", err)
	}

	if err := r.cycle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("cycle failed", "error", err)
	}
}
