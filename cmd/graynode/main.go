// Gray Logic Node - Battery Sensor Node
//
// This is the main entry point for a Gray Logic leaf node: a battery
// powered sensor that wakes, samples its instruments, joins the
// network, syncs with the hub over MQTT, and goes back to sleep. The
// hub side of the system is Gray Logic Core; this binary is the far
// end of that conversation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-node/migrations"

	"github.com/nerrad567/gray-logic-node/internal/episode"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/nvstore"
	"github.com/nerrad567/gray-logic-node/internal/obuf"
	"github.com/nerrad567/gray-logic-node/internal/sensor"
	"github.com/nerrad567/gray-logic-node/internal/session"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
	"github.com/nerrad567/gray-logic-node/internal/wifi"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Wiring order matters to the defer chain: the session closes (offline
// announce) while the link is still up, and the link tears down before
// the store closes.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing a wiring failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Durable KV store over the database
	store := nvstore.New(db.DB)

	// Link manager (optional: bench machines are already connected)
	var link *wifi.Manager
	if cfg.WiFi.Enabled {
		link, err = wifi.NewManager(wifi.Options{
			Config: cfg.WiFi,
			Store:  store,
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("creating wifi manager: %w", err)
		}
		defer func() {
			log.Info("releasing network link")
			if discErr := link.Disconnect(context.Background()); discErr != nil {
				log.Warn("error disconnecting link", "error", discErr)
			}
			if closeErr := link.Close(); closeErr != nil {
				log.Error("error closing wifi manager", "error", closeErr)
			}
		}()
		log.Info("wifi manager ready", "ssid", cfg.WiFi.SSID, "interface", cfg.WiFi.Interface)
	} else {
		log.Info("wifi management disabled, assuming host connectivity")
	}

	// Broker session with the outside-reading snapshot
	snap := telemetry.NewSnapshot()
	sess, err := session.NewManager(session.Options{
		Config:   cfg,
		Snapshot: snap,
		Logger:   log,
		OnClock: func(value string) {
			log.Debug("hub clock received", "value", value)
		},
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	defer func() {
		log.Info("closing session")
		if closeErr := sess.Close(); closeErr != nil {
			log.Warn("error closing session", "error", closeErr)
		}
	}()

	// Offline sample buffer
	buf, err := obuf.New(obuf.Options{
		Store:  store,
		Config: cfg,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating offline buffer: %w", err)
	}

	// Local instruments (optional; a dead sensor is not fatal, the node
	// still drains backlog and holds its session)
	var sampler episode.Sampler
	if cfg.Sensors.Enabled || cfg.Sensors.Battery.Enabled {
		probe, probeErr := sensor.New(sensor.Options{
			Config: cfg.Sensors,
			Logger: log,
		})
		if probeErr != nil {
			log.Warn("sensors unavailable, publishing backlog only", "error", probeErr)
		} else {
			defer func() {
				if closeErr := probe.Close(); closeErr != nil {
					log.Warn("error closing sensors", "error", closeErr)
				}
			}()
			sampler = probe
		}
	} else {
		log.Info("sensors disabled")
	}

	// Episode diagnostics (optional)
	var metrics episode.Metrics
	if cfg.InfluxDB.Enabled {
		flux, fluxErr := influxdb.Open(cfg.InfluxDB)
		if fluxErr != nil {
			return fmt.Errorf("opening influxdb: %w", fluxErr)
		}
		flux.SetOnError(func(err error) {
			log.Warn("diagnostics write failed", "error", err)
		})
		defer func() {
			log.Info("closing diagnostics sink")
			if closeErr := flux.Close(); closeErr != nil {
				log.Error("error closing influxdb", "error", closeErr)
			}
		}()
		metrics = flux
		log.Info("episode diagnostics enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("episode diagnostics disabled")
	}

	// Episode runner
	runnerOpts := episode.Options{
		Config:  cfg,
		Session: sess,
		Buffer:  buf,
		Sampler: sampler,
		Metrics: metrics,
		Logger:  log,
	}
	if link != nil {
		runnerOpts.Link = link
	}
	runner, err := episode.NewRunner(runnerOpts)
	if err != nil {
		return fmt.Errorf("creating episode runner: %w", err)
	}

	if cfg.Mode.Run == "loop" {
		return runLoop(ctx, cfg, runner, log)
	}

	// Once mode: one episode, then the defer chain says goodbye and an
	// external timer handles the next wake.
	runner.Run(ctx)
	return nil
}

// runLoop executes episodes on the configured interval until the
// context is cancelled. Mains-powered bench mode; the link and session
// stay up between episodes, so later connects hit the fast path.
func runLoop(ctx context.Context, cfg *config.Config, runner *episode.Runner, log *logging.Logger) error {
	interval := cfg.ModeInterval()
	log.Info("loop mode", "interval", interval)

	for {
		runner.Run(ctx)

		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return nil
		case <-time.After(interval):
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYNODE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYNODE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
