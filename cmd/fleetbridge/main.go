// Fleet Bridge - MQTT bridge for drone and dock fleets
//
// This is the main entry point for the fleet bridge. Browsers connect over
// WebSocket and each connection drives its own MQTT session against the
// fleet broker: connect, subscribe, publish and service calls, with message
// history and per-device state kept server-side.
//
// Usage:
//
//	fleetbridge                        run the bridge
//	fleetbridge token <subject> <role> print an access token and exit
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/api"
	"github.com/nerrad567/fleet-bridge/internal/audit"
	"github.com/nerrad567/fleet-bridge/internal/auth"
	"github.com/nerrad567/fleet-bridge/internal/bridge"
	"github.com/nerrad567/fleet-bridge/internal/device"
	"github.com/nerrad567/fleet-bridge/internal/export"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleet-bridge/internal/profile"
	"github.com/nerrad567/fleet-bridge/internal/servicecall"
	"github.com/nerrad567/fleet-bridge/internal/telemetry"
	"github.com/nerrad567/fleet-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fleet bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty, authentication is disabled")
	}

	// Profile store
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

	if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	profiles := profile.NewSQLiteRepository(db.DB)
	fallback := fallbackBroker(cfg.MQTT)
	seeded, err := profile.SeedDefault(ctx, profiles, cfg.MQTT.SeedName, fallback)
	if err != nil {
		return err
	}
	if seeded {
		log.Info("seeded default broker profile", "name", cfg.MQTT.SeedName, "url", fallback.BrokerURL())
	}

	// Export pipeline
	sinks, err := export.OpenSinks(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("opening export sinks: %w", err)
	}
	pipeline := export.NewPipeline(cfg.Export.QueueSize, log, sinks...)
	exportCtx, stopExport := context.WithCancel(context.Background())
	exportDone := make(chan struct{})
	go func() {
		defer close(exportDone)
		pipeline.Run(exportCtx)
	}()
	defer func() {
		stopExport()
		<-exportDone
		if closeErr := pipeline.Close(); closeErr != nil {
			log.Error("error closing export sinks", "error", closeErr)
		}
	}()
	if !pipeline.Enabled() {
		log.Info("telemetry export disabled")
	}

	// Bridge sessions
	rule, err := telemetry.ParseRule(cfg.Bridge.DeviceIDRule, cfg.Bridge.Namespace)
	if err != nil {
		return err
	}
	topics := mqtt.Topics{Namespace: cfg.Bridge.Namespace}
	services := servicecall.NewCorrelator(topics, log)

	opts := bridge.Options{
		Resolver:         bridge.ProfileResolver{Profiles: profiles, Fallback: fallback},
		SubscribeTimeout: cfg.GetSubscribeTimeout(),
		HistoryLimit:     cfg.Bridge.HistoryLimit,
		DeviceIDRule:     &rule,
		ServiceCall:      services.Caller(),
	}
	if pipeline.Enabled() {
		opts.Observer = pipeline.Observer()
	}
	sessions := bridge.NewManager(opts, log)
	defer func() {
		log.Info("closing bridge sessions", "sessions", sessions.Len())
		sessions.Shutdown()
	}()

	// HTTP API and WebSocket bridge
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Sessions:   sessions,
		Profiles:   profiles,
		Services:   services,
		Devices:    device.NewSQLiteRepository(db.DB),
		Audit:      audit.NewSQLiteRepository(db.DB),
		Export:     pipeline,
		DB:         db,
		SendBuffer: cfg.Bridge.SendBuffer,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"ws_path", cfg.WebSocket.Path,
		"device_id_rule", rule.String(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server (closes every WebSocket client)
	// 2. Bridge sessions
	// 3. Export pipeline (drains the queue, flushes sinks)
	// 4. Database
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// fallbackBroker converts the mqtt config section into a connection config.
func fallbackBroker(c config.MQTTConfig) mqtt.ConnectionConfig {
	return mqtt.ConnectionConfig{
		Protocol:         c.Broker.Protocol,
		Host:             c.Broker.Host,
		Port:             c.Broker.Port,
		Path:             c.Broker.Path,
		ClientID:         c.Broker.ClientID,
		Username:         c.Auth.Username,
		Password:         c.Auth.Password,
		KeepaliveSec:     c.KeepAlive,
		ConnectTimeoutMs: c.Timeout * 1000,
	}
}

// healthCheck verifies the database and API server are up.
func healthCheck(ctx context.Context, db *database.DB, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// printToken writes a signed access token for args[0] with role args[1],
// using the secret and TTL from the loaded config.
func printToken(w io.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: fleetbridge token <subject> <role>")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return auth.ErrNoSecret
	}

	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	tok, err := auth.GenerateAccessToken(args[0], auth.Role(args[1]), cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}
