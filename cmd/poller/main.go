package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muni-locations/poller/internal/config"
	"github.com/muni-locations/poller/internal/db"
	"github.com/muni-locations/poller/internal/logging"
	"github.com/muni-locations/poller/internal/metrics"
	"github.com/muni-locations/poller/internal/nextbus"
	"github.com/muni-locations/poller/internal/poller"
)

const appName = "poller"

// version is overridden with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"routes", cfg.RouteTags,
		"base_wait", cfg.PollBaseWait,
		"spread", cfg.PollSpread,
		"log_level", cfg.LogLevel.String(),
	)

	// Without storage there is nothing to do
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DatabasePath, "err", err)
		os.Exit(1)
	}
	defer database.Close()

	if cfg.EnsureSchema {
		if err := database.EnsureSchema(context.Background()); err != nil {
			slog.Error("failed to ensure schema", "err", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	if cfg.StatsInterval > 0 {
		go logStats(ctx, collector, logger, cfg.StatsInterval)
	}

	scheduler := &poller.Scheduler{
		Feed:        nextbus.NewClient(cfg.FeedBaseURL, cfg.FeedAgency, cfg.FeedTimeout),
		Store:       database,
		InitialWait: cfg.InitialWait,
		Lookback:    cfg.Lookback,
		Options: []poller.Option{
			poller.WithReporter(poller.MultiReporter{
				poller.LogReporter{Logger: logger},
				poller.StatsReporter{Collector: collector},
			}),
		},
	}

	if err := scheduler.Run(ctx, cfg.RouteSet(), cfg.PollBaseWait, cfg.PollSpread); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	collector.LogSummary(logger)
	slog.Info("shutting down")
}

func logStats(ctx context.Context, collector *metrics.Collector, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			collector.LogSummary(logger)
		case <-ctx.Done():
			return
		}
	}
}
