package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/presenced/internal/graph"
	"github.com/goodtune/presenced/internal/metrics"
	"github.com/goodtune/presenced/internal/notify"
	"github.com/goodtune/presenced/internal/systemd"
	"github.com/goodtune/presenced/internal/tracker"
)

var trackCmd = &cobra.Command{
	Use:   "track [config]",
	Short: "Run one daily tracking session",
	Long: `Track waits for the configured daily window, then polls the availability
of every tracked user until the window closes. If the window has already
passed for today, track logs a warning and exits successfully.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Msg("Starting presenced")

	store, err := openStore(cfg.Storage, false)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	if cfg.Metrics.Enabled {
		listeners, err := systemd.GetListeners()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to check systemd socket activation")
		}

		addr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer := metrics.NewServer(addr, logger)
		if listeners != nil && listeners.Metrics != nil {
			metricsServer.SetListener(listeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping metrics server")
			}
		}()
	}

	graphClient, err := graph.NewClient(cfg.Graph, graph.NewStaticTokenSource(cfg.Graph.Token), logger)
	if err != nil {
		return fmt.Errorf("create graph client: %w", err)
	}

	notifier := notify.NewClient(cfg.Notify, logger)
	driver := tracker.NewDriver(store, graphClient, graphClient, notifier, tracker.RealClock{}, cfg.Tracking, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := systemd.NotifyReady(); err != nil {
		logger.Debug().Err(err).Msg("sd_notify ready failed")
	}

	runErr := driver.Run(ctx)

	if err := systemd.NotifyStopping(); err != nil {
		logger.Debug().Err(err).Msg("sd_notify stopping failed")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Tracking session failed")
		return runErr
	}

	logger.Info().Msg("Presenced stopped")
	return nil
}
