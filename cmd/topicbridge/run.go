package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/topicbridge/internal/api"
	"github.com/nerrad567/topicbridge/internal/bridge"
	"github.com/nerrad567/topicbridge/internal/device"
	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
	"github.com/nerrad567/topicbridge/internal/infrastructure/database"
	"github.com/nerrad567/topicbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/topicbridge/internal/infrastructure/logging"
	"github.com/nerrad567/topicbridge/internal/infrastructure/metrics"
	"github.com/nerrad567/topicbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/topicbridge/migrations"
)

// run wires every component and blocks until ctx is cancelled or the
// engine stops.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfgPath: Configuration file path
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfgPath string) error { //nolint:gocognit,funlen // linear startup sequence
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.Default()
	log.Info("starting topicbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", cfgPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, cfg.Database)
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

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading store: %w", refreshErr)
	}

	// Optional collaborators stay nil interfaces when disabled.
	var (
		history     bridge.History
		influxCheck api.HealthChecker
	)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		history, influxCheck = influxClient, influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	mqttOpts := []mqtt.Option{mqtt.WithLogger(log)}
	var bridgeMetrics bridge.Metrics
	if cfg.Metrics.Enabled {
		collector, metricsErr := metrics.NewCollector(nil)
		if metricsErr != nil {
			return fmt.Errorf("registering metrics: %w", metricsErr)
		}
		mqttOpts = append(mqttOpts, mqtt.WithObserver(collector))
		bridgeMetrics = collector
	}

	manager, err := mqtt.NewManager(cfg.MQTT, mqttOpts...)
	if err != nil {
		return fmt.Errorf("creating MQTT session: %w", err)
	}
	defer func() {
		log.Info("closing MQTT session")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	engine, err := bridge.NewEngine(bridge.Options{
		Session: manager,
		Store:   registry,
		Config:  cfg.MQTT,
		Logger:  log,
		History: history,
		Metrics: bridgeMetrics,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Metrics:  cfg.Metrics,
			Logger:   log,
			Registry: registry,
			Session:  manager,
			Bridge:   engine,
			Influx:   influxCheck,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	if err := manager.Connect(ctx); err != nil {
		cancel()
		<-engineDone
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("bridge: %w", err)
		}
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("bridge: %w", err)
		}
	}

	log.Info("topicbridge stopped")
	return nil
}
