package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/extraction"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the product refresh scheduler",
	Long: `Run until interrupted, refreshing products on the SCHEDULER_DAILY,
SCHEDULER_WEEKLY and SCHEDULER_MONTHLY cron schedules. Tables left by a
previous run are swept on startup. On SIGINT or SIGTERM
the scheduler stops, running refreshes complete and pending table cleanups
are awaited.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("configuration loaded",
		"db", cfg.Database.PoolSummary(),
		"max_concurrent", cfg.Extraction.MaxConcurrent,
		"cleanup_workers", cfg.Extraction.CleanupWorkers,
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)

	if _, err := a.sweeper(0).Sweep(ctx); err != nil {
		slog.Warn("startup sweep incomplete", "error", err)
	}

	if !cfg.Scheduler.Enabled {
		slog.Info("scheduler disabled, waiting for shutdown")
		<-ctx.Done()
		return nil
	}

	refresher, err := extraction.NewRefresher(a.service, cfg.Scheduler)
	if err != nil {
		return err
	}
	refresher.Start(ctx)

	slog.Info("shutting down...")
	return nil
}
