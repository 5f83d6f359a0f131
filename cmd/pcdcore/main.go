// pcdcore is the pseudo character device daemon.
//
// It binds the pseudo devices declared in configuration, mirrors them onto
// MQTT, journals their lifecycle in SQLite, ships I/O counters to InfluxDB and
// serves a REST and WebSocket API. With --shell it also opens an interactive
// console on the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/pcd-core/internal/announce"
	"github.com/nerrad567/pcd-core/internal/api"
	"github.com/nerrad567/pcd-core/internal/audit"
	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/console"
	"github.com/nerrad567/pcd-core/internal/driver"
	"github.com/nerrad567/pcd-core/internal/infrastructure/config"
	"github.com/nerrad567/pcd-core/internal/infrastructure/database"
	"github.com/nerrad567/pcd-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pcd-core/internal/infrastructure/logging"
	"github.com/nerrad567/pcd-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pcd-core/internal/telemetry"
	"github.com/nerrad567/pcd-core/migrations"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownTimeout bounds how long the registry waits for observers and
// publishers while detaching devices at exit.
const shutdownTimeout = 5 * time.Second

// options are the parsed command-line flags.
type options struct {
	configPath  string
	shell       bool
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("pcdcore %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args. The config path falls back to PCD_CONFIG; an
// empty path runs on built-in defaults.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("pcdcore", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&opts.configPath, "config", "c", os.Getenv("PCD_CONFIG"), "path to the YAML configuration file")
	flagSet.BoolVar(&opts.shell, "shell", false, "open an interactive device console")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(out, "Usage: pcdcore [flags]\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, nil
}

// run is the daemon body, separated from main for testability.
// Teardown is deferred in reverse order of setup.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting pcdcore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	journalRepo := audit.NewSQLiteRepository(db.DB)

	// A nil *influxdb.Client must not reach the recorder as a non-nil interface.
	var metricWriter telemetry.MetricWriter
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		metricWriter = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder := telemetry.NewRecorder(metricWriter)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// The registry is closed before MQTT so detach announcements still go out.
	registry := driver.NewRegistry(catalogue.Default(), driver.Config{
		NumberBase:  cfg.Driver.NumberBase,
		MaxDevices:  cfg.Driver.MaxDevices,
		MaxCapacity: cfg.Driver.MaxCapacity,
	})
	registry.SetLogger(log.With("component", "driver"))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("detaching devices")
		if closeErr := registry.Close(closeCtx); closeErr != nil {
			log.Error("error closing device registry", "error", closeErr)
		}
		recorder.Flush()
	}()

	journal := audit.NewJournal(journalRepo)
	journal.SetLogger(log.With("component", "audit"))
	registry.AddObserver(journal)
	registry.AddObserver(recorder)

	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
	if mqttClient != nil {
		format, fmtErr := announce.ParseFormat(cfg.MQTT.PayloadFormat)
		if fmtErr != nil {
			return fmt.Errorf("mqtt payload format: %w", fmtErr)
		}
		publisher := announce.NewPublisher(mqttClient, topics, byte(cfg.MQTT.QoS), format) //nolint:gosec // QoS validated 0-2
		publisher.SetLogger(log.With("component", "announce"))
		registry.SetPublisher(publisher)
		registry.AddObserver(publisher)
	}

	if attachErr := attachConfigured(ctx, registry, cfg.Catalogue, log); attachErr != nil {
		return attachErr
	}
	log.Info("devices bound", "count", registry.TotalBound())

	if mqttClient != nil {
		listener := announce.NewListener(registry, topics)
		listener.SetLogger(log.With("component", "announce"))
		if subErr := listener.Subscribe(ctx, mqttClient, byte(cfg.MQTT.QoS)); subErr != nil { //nolint:gosec // QoS validated 0-2
			return fmt.Errorf("subscribing to announcements: %w", subErr)
		}
		defer func() {
			if unsubErr := listener.Unsubscribe(mqttClient); unsubErr != nil {
				log.Warn("error unsubscribing from announcements", "error", unsubErr)
			}
		}()
		log.Info("listening for device announcements", "topic", topics.AllAnnouncements())
	}

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.With("component", "api"),
			Registry:  registry,
			Journal:   journalRepo,
			Telemetry: recorder,
			DB:        db,
			MQTT:      mqttClient,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", apiServer.Addr())
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if opts.shell {
		shell := console.New(registry, os.Stdout)
		defer shell.Close()
		if shellErr := shell.Run(ctx); shellErr != nil {
			return fmt.Errorf("console: %w", shellErr)
		}
		log.Info("console closed, shutting down")
	} else {
		log.Info("initialisation complete, waiting for shutdown signal")
		<-ctx.Done()
		log.Info("shutdown signal received, cleaning up")
	}

	return nil
}

// attachConfigured binds the platform devices and every node of the
// description tree. A device that fails to bind is logged and skipped; an
// unreadable tree aborts startup.
func attachConfigured(ctx context.Context, registry *driver.Registry, cfg config.CatalogueConfig, log *logging.Logger) error {
	for _, p := range cfg.PlatformDevices {
		desc, err := p.Descriptor()
		if err != nil {
			log.Warn("skipping platform device", "name", p.Name, "error", err)
			continue
		}
		n, err := registry.Attach(ctx, catalogue.Announcement{Name: p.Name, Platform: &desc})
		if err != nil {
			log.Warn("platform device not bound", "name", p.Name, "error", err)
			continue
		}
		log.Debug("platform device bound", "name", p.Name, "number", n)
	}

	if cfg.DescriptionTree == "" {
		return nil
	}
	nodes, err := catalogue.LoadTree(cfg.DescriptionTree)
	if err != nil {
		return fmt.Errorf("loading description tree: %w", err)
	}
	for _, node := range nodes {
		n, err := registry.Attach(ctx, catalogue.Announcement{Node: node})
		if err != nil {
			log.Warn("description node not bound", "node", node.Name(), "error", err)
			continue
		}
		log.Debug("description node bound", "node", node.Name(), "number", n)
	}
	return nil
}

// healthCheck verifies the infrastructure connections. Disabled clients
// are nil and skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
