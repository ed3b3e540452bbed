// Command capture is the minimal process entrypoint wiring the capture
// core's components together: load config, open the store, open a run,
// start every component under the Orchestrator, and tear down on signal.
// The CLI surface itself is intentionally thin: three flags (config path,
// scenario label, notes); interactive scenario prompts and report
// generation are out of scope (spec non-goals).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/splax/scenariotel/internal/config"
	"github.com/splax/scenariotel/internal/counters"
	"github.com/splax/scenariotel/internal/logging"
	"github.com/splax/scenariotel/internal/managedruntime/eventpipe"
	"github.com/splax/scenariotel/internal/model"
	"github.com/splax/scenariotel/internal/orchestrator"
	"github.com/splax/scenariotel/internal/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		scenario   = flag.String("scenario", "", "free-text label for this run")
		notes      = flag.String("notes", "", "free-text notes for this run")
	)
	flag.Parse()

	log := logging.New("capture", slog.LevelInfo)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	facts := counters.GatherFacts(counters.Platform())

	orch := orchestrator.New(cfg, st, log, eventpipe.NewClient(), orchestrator.HostFacts{
		MachineName:       facts.MachineName,
		OSIdentifier:      facts.OSIdentifier,
		LogicalCores:      facts.LogicalCores,
		CPUModel:          facts.CPUModel,
		TotalPhysicalMB:   facts.TotalPhysicalMB,
		SystemDriveType:   facts.SystemDriveType,
		SystemDriveFreeMB: facts.SystemDriveFreeMB,
		UptimeAtStart:     facts.UptimeAtStart,
	})

	runID, err := orch.Open(ctx, *scenario, *notes, model.WorkloadDescriptor{}, "", "dev")
	if err != nil {
		log.Error("failed to open run", "error", err)
		os.Exit(1)
	}
	log.Info("run opened", "run_id", runID)

	eg, egCtx := errgroup.WithContext(ctx)
	if err := orch.Start(egCtx, eg); err != nil {
		log.Error("failed to start components", "error", err)
		os.Exit(1)
	}
	eg.Go(func() error {
		orch.Run(egCtx)
		return nil
	})

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Close(shutdownCtx)

	if err := eg.Wait(); err != nil {
		log.Warn("component group reported error", "error", err)
	}
}
