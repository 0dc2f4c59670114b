package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scenesmith/internal/adapters/content"
	"scenesmith/internal/adapters/driver"
	"scenesmith/internal/adapters/notify"
	"scenesmith/internal/adapters/state"
	"scenesmith/internal/api"
	"scenesmith/internal/core"
	"scenesmith/internal/events"
	"scenesmith/internal/logging"
	"scenesmith/internal/orchestrator"
	"scenesmith/internal/progress"
	"scenesmith/internal/registry"
	"scenesmith/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.New(256)
	defer bus.Close()

	reg := registry.New()
	agg := progress.New(reg)
	go agg.Run(ctx, bus)

	session := driver.New(cfg.Driver.URL, cfg.Driver.Timeout, logger)
	source := content.NewSource(cfg.Content.CSVPath, logger)

	var notifier core.NotificationSink = notify.Nop{}
	if cfg.Notify.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("configuring telegram: %w", err)
		}
		notifier = tg
		logger.Info("telegram notifications enabled")
	}

	var snapshots *state.SQLiteStore
	if cfg.State.DBPath != "" {
		snapshots, err = state.NewSQLiteStore(cfg.State.DBPath)
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		defer snapshots.Close()
	}

	workflows, err := workflow.NewStore(cfg.Workflows.Dir, logger.Logger)
	if err != nil {
		return fmt.Errorf("opening workflow store: %w", err)
	}
	if err := workflows.SeedDefault(); err != nil {
		return fmt.Errorf("seeding default workflow: %w", err)
	}
	if err := workflows.Watch(); err != nil {
		logger.Warn("workflow hot reload disabled", "error", err)
	}
	defer workflows.Close()

	var store orchestrator.SnapshotStore
	if snapshots != nil {
		store = snapshots
	}
	orch := orchestrator.New(cfg, logger, bus, reg, agg, session, source, notifier, store)
	defer orch.Shutdown()

	opts := []api.ServerOption{api.WithLogger(logger.Logger)}
	if snapshots != nil {
		opts = append(opts, api.WithHistory(snapshots))
	}
	server := api.NewServer(orch, workflows, bus, opts...)

	logger.Info("scenesmith starting",
		"addr", cfg.Server.Addr,
		"driver", cfg.Driver.URL,
		"max_concurrency", cfg.Scheduler.MaxConcurrency,
	)
	return server.ListenAndServe(ctx, cfg.Server.Addr)
}
