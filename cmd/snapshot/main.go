// Command snapshot pulls one batch per route, stores it and optionally writes
// it out as a GTFS-Realtime VehiclePositions file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/muni-locations/poller/internal/config"
	"github.com/muni-locations/poller/internal/db"
	"github.com/muni-locations/poller/internal/export"
	"github.com/muni-locations/poller/internal/logging"
	"github.com/muni-locations/poller/internal/nextbus"
	"github.com/muni-locations/poller/internal/poller"
	"github.com/muni-locations/poller/internal/transit"
)

// discardStore satisfies poller.Store when -no-store is given
type discardStore struct{}

func (discardStore) InsertVehicleLocations(context.Context, []transit.VehicleLocation) error {
	return nil
}

func main() {
	config.LoadDotEnv()
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run returns the process exit code: 0 on success, 1 on a setup or export
// failure, 2 when at least one route could not be pulled.
func run(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DatabasePath, "SQLite path or postgres:// URL")
	noStore := fs.Bool("no-store", false, "do not write to the database")
	initSchema := fs.Bool("init-schema", cfg.EnsureSchema, "create the vehicle_locations table if missing")
	routes := fs.String("routes", strings.Join(cfg.RouteTags, ","), "comma-separated route tags")
	target := fs.String("target", "", "if set, write a GTFS-RT VehiclePositions file here")
	humanReadable := fs.Bool("human-readable", false, "use human-readable protobuf format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := logging.New(cfg, "dev", "snapshot")
	slog.SetDefault(logger)

	var store poller.Store = discardStore{}
	var database *db.DB
	if !*noStore {
		database, err = db.Open(*dbPath)
		if err != nil {
			slog.Error("failed to open store", "path", *dbPath, "err", err)
			return 1
		}
		defer database.Close()

		if *initSchema {
			if err := database.EnsureSchema(ctx); err != nil {
				slog.Error("failed to ensure schema", "err", err)
				return 1
			}
		}
		store = database
	}

	feed := nextbus.NewClient(cfg.FeedBaseURL, cfg.FeedAgency, cfg.FeedTimeout)
	fetchTime := time.Now()

	var all []transit.VehicleLocation
	failed := 0
	for _, tag := range strings.Split(*routes, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		p := poller.New(poller.Config{RouteTag: tag, Lookback: cfg.Lookback}, feed, store,
			poller.WithReporter(poller.LogReporter{Logger: logger}))

		batch, err := p.PollOnce(ctx)
		if err != nil {
			failed++
			continue
		}
		all = append(all, batch.Locations...)

		if database != nil {
			total, err := database.CountVehicleLocations(ctx, tag)
			if err != nil {
				slog.Warn("failed to count stored rows", "route", tag, "err", err)
				continue
			}
			slog.Info("route stored", "route", tag, "new", len(batch.Locations), "total", total)
		}
	}

	if *target != "" {
		if err := export.SaveProtoToFile(export.ToGTFSRealtime(all, fetchTime), *target, *humanReadable); err != nil {
			slog.Error("failed to write GTFS-RT file", "target", *target, "err", err)
			return 1
		}
		slog.Info("wrote GTFS-RT file", "target", *target, "vehicles", len(all))
	}

	slog.Info("snapshot done", "vehicles", len(all), "failed_routes", failed)
	if failed > 0 {
		return 2
	}
	return 0
}
