// Package main provides the entry point for the factory pipeline workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/castwave/release-factory/internal/bootstrap"
	"github.com/castwave/release-factory/internal/cleanup"
	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/importer"
	"github.com/castwave/release-factory/internal/media"
	"github.com/castwave/release-factory/internal/orchestrator"
	"github.com/castwave/release-factory/internal/qa"
	"github.com/castwave/release-factory/internal/trackcatalog"
	"github.com/castwave/release-factory/internal/uploader"
	"github.com/castwave/release-factory/internal/worker"
)

var allRoles = []string{"import", "render", "qa", "upload", "cleanup", "tracks"}

func main() {
	roles := flag.String("roles", "all", "comma-separated roles to run (import,render,qa,upload,cleanup,tracks) or all")
	once := flag.Bool("once", false, "run one cycle per role and exit")
	flag.Parse()

	if err := run(*roles, *once); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(rolesFlag string, once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	roles, err := parseRoles(rolesFlag)
	if err != nil {
		return err
	}

	logger.Info("starting factory worker",
		slog.String("roles", strings.Join(roles, ",")),
		slog.Bool("once", once),
		slog.String("storage_root", cfg.StorageRoot),
		slog.String("origin_backend", cfg.OriginBackend),
		slog.String("upload_backend", cfg.UploadBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	runners := make([]*worker.Runner, 0, len(roles))
	for _, role := range roles {
		runners = append(runners, newRunnerFor(role, cfg, deps, logger))
	}

	if once {
		for _, r := range runners {
			r.Once(ctx)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("worker stopped gracefully")
	return nil
}

// newRunnerFor wires the role's worker with a fresh identity shared between
// its queue locks and its runner.
func newRunnerFor(role string, cfg *config.Config, deps *bootstrap.Dependencies, logger *slog.Logger) *worker.Runner {
	id := worker.NewID(role)
	sleep := cfg.WorkerSleep()

	var cycle worker.CycleFunc
	switch role {
	case "import":
		imp := importer.New(deps.Store, deps.Origin, logger)
		cycle = imp.Cycle
	case "render":
		ffmpeg := media.NewFFmpeg(cfg.FFmpegBin)
		orch := orchestrator.New(deps.Store, deps.Origin, deps.Layout, ffmpeg, cfg, deps.Policies, logger, id)
		cycle = orch.Cycle
	case "qa":
		ffmpeg := media.NewFFmpeg(cfg.FFmpegBin)
		gate := qa.New(deps.Store, deps.Layout, media.NewFFProbe(cfg.FFprobeBin), ffmpeg, cfg, deps.Policies, logger, id)
		cycle = gate.Cycle
	case "upload":
		up := uploader.New(deps.Store, deps.Layout, deps.Backend, cfg, logger, id)
		cycle = up.Cycle
	case "cleanup":
		cl := cleanup.New(deps.Store, deps.Layout, logger)
		cycle = cl.Cycle
	case "tracks":
		cat := trackcatalog.New(deps.Store, deps.Origin, cfg, logger, id)
		cycle = cat.Cycle
	}
	return worker.NewRunner(deps.Store, role, id, cycle, sleep, logger)
}

func parseRoles(raw string) ([]string, error) {
	if raw == "" || raw == "all" {
		return allRoles, nil
	}
	known := map[string]bool{}
	for _, r := range allRoles {
		known[r] = true
	}
	var out []string
	for _, r := range strings.Split(raw, ",") {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !known[r] {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no roles selected")
	}
	return out, nil
}
