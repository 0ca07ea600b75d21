// Hublink - device-side IoT hub transport
//
// This is the main entry point for the hublink device agent. It connects a
// device (or module) identity to the hub, sends periodic heartbeat
// telemetry and logs inbound cloud-to-device messages and direct method
// calls, recording every delivery in the local ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hublink/internal/api"
	"github.com/nerrad567/hublink/internal/deviceio"
	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
	"github.com/nerrad567/hublink/internal/infrastructure/metrics"
	"github.com/nerrad567/hublink/internal/ledger"
	"github.com/nerrad567/hublink/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting hublink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).ForIdentity(cfg.Device.DeviceID, cfg.Device.ModuleID)
	log.Info("configuration loaded",
		"path", configPath,
		"mode", cfg.Connection.Mode,
		"level", cfg.Logging.Level,
	)

	var (
		observers transport.Observers
		starters  []func(context.Context) error
		ledgerAPI api.LedgerReader
		checks    = make(map[string]api.HealthCheck)
	)

	collector := metrics.NewCollector(true)
	hub := api.NewHub(cfg.API.WebSocket, log.Component("api"))
	observers = append(observers, collector, hub)

	if cfg.Ledger.Enabled {
		db, repo, err := ledger.Open(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing ledger")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing ledger", "error", closeErr)
			}
		}()
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("ledger health check: %w", err)
		}
		log.Info("ledger ready", "path", db.Path())
		ledgerAPI = repo
		checks["ledger"] = db.HealthCheck

		recorder := ledger.NewRecorder(repo, ledger.RecorderConfig{
			Retention: ledger.RetentionOf(cfg.Ledger),
		})
		recorder.SetLogger(log.Component("ledger"))
		observers = append(observers, recorder)
		starters = append(starters, recorder.Run)
	} else {
		log.Info("ledger disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		checks["influxdb"] = influxClient.HealthCheck
		observers = append(observers, influxdb.NewObserver(influxClient, cfg.Device.DeviceID, nil))
	} else {
		log.Info("InfluxDB disabled")
	}

	client, err := newClient(cfg, observers, log)
	if err != nil {
		return err
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:         cfg.API,
			Metrics:        cfg.Metrics,
			Logger:         log.Component("api"),
			Hub:            hub,
			Ledger:         ledgerAPI,
			MetricsHandler: collector.Handler(),
			Status:         client.Status,
			Checks:         checks,
			Version:        version,
		})
		if err != nil {
			return fmt.Errorf("creating api server: %w", err)
		}
		starters = append(starters, srv.Run)
	} else {
		log.Info("API disabled")
	}

	agent := newAgent(client, cfg, log)
	if err := agent.register(); err != nil {
		return err
	}

	// Background services outlive the signal context so that the events
	// emitted while the client closes are still recorded. They stop before
	// the ledger and InfluxDB are closed.
	base, stopServices := context.WithCancel(context.WithoutCancel(ctx))
	services, svcCtx := errgroup.WithContext(base)
	for _, start := range starters {
		start := start
		services.Go(func() error { return start(svcCtx) })
	}
	defer func() {
		stopServices()
		services.Wait() //nolint:errcheck // Reported on the clean shutdown path
	}()

	if err := client.Open(ctx); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("opening connection: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	agent.run(ctx, svcCtx)

	log.Info("shutting down")
	if err := client.Close(); err != nil && !errors.Is(err, deviceio.ErrClientClosed) {
		log.Error("error closing client", "error", err)
	}

	stopServices()
	if err := services.Wait(); err != nil {
		return fmt.Errorf("background service: %w", err)
	}

	log.Info("hublink stopped")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("HUBLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
