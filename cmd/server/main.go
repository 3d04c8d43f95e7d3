/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the renewal engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL) and seed renewal configs
  4. Wire sender, run lock, metrics, transactor and reminder runner
  5. Start the reminder scheduler and the HTTP server

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -driver  Database driver: sqlite3 | postgres
  -db      Database DSN. Use ":memory:" for an in-memory SQLite database

ENVIRONMENT:
  See config/config.go. The interesting ones:
  DB_DRIVER, DB_DSN, REDIS_ADDR, SMTP_HOST, SCHEDULER_INTERVAL, TIMEZONE,
  RENEWAL_CONFIG_FILE, DEMO_SCENARIOS

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels the in-flight run between candidates)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

EXAMPLES:
  # Local run, reminders logged instead of emailed
  ./server -db="./data/renewals.db"

  # PostgreSQL with a shared Redis lock
  DB_DRIVER=postgres DB_DSN="postgres://..." REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - renewal/reminder.go: Reminder runner
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/api"
	"github.com/warp/renewal-engine/config"
	"github.com/warp/renewal-engine/factory"
	"github.com/warp/renewal-engine/logging"
	"github.com/warp/renewal-engine/metrics"
	"github.com/warp/renewal-engine/notify"
	"github.com/warp/renewal-engine/renewal"
	"github.com/warp/renewal-engine/store/redislock"
	"github.com/warp/renewal-engine/store/sqldb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.HTTP.Port, "HTTP server port")
	driver := flag.String("driver", cfg.Database.Driver, "Database driver (sqlite3, postgres)")
	dsn := flag.String("db", cfg.Database.DSN, "Database DSN")
	flag.Parse()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "renewal-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *port, *driver, *dsn, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, port int, driver, dsn string, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqldb.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if err := seedConfigs(ctx, store, cfg.RenewalConfigFile, logger); err != nil {
		return err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Notification sender
	var sender renewal.NotificationSender
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From, logger)
		logger.Info("reminders go out over SMTP", zap.String("host", cfg.SMTP.Host))
	} else {
		sender = notify.NewLogSender(logger)
		logger.Warn("SMTP_HOST not set, reminders are only logged")
	}

	deps := renewal.RunnerDeps{
		Policies: store,
		Configs:  store,
		Logs:     store,
		Holders:  store,
		Sender:   sender,
		Metrics:  m,
		Logger:   logger,
	}

	// Optional cross-process run lock
	if cfg.Redis.Addr != "" {
		lock, client, err := redislock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		deps.Lock = lock
		logger.Info("reminder runs guarded by redis lock", zap.String("addr", cfg.Redis.Addr))
	}

	runner := renewal.NewReminderRunner(deps, cfg.Location)
	runner.SendTimeout = cfg.Scheduler.SendTimeout
	runner.LookaheadDays = cfg.Scheduler.LookaheadDays

	transactor := renewal.NewTransactor(store, logger, m)

	handler := api.NewHandler(transactor, runner, store, store, logger)
	if cfg.DemoScenarios {
		handler.Holders = store
	}
	handler.Scheduler.Interval = cfg.Scheduler.Interval
	handler.Scheduler.Enabled = cfg.Scheduler.Enabled

	router := api.NewRouter(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual reminder runs wait for the batch
		IdleTimeout:  60 * time.Second,
	}

	handler.Scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", port),
			zap.String("driver", driver),
			zap.String("timezone", cfg.Location.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		handler.Scheduler.Stop()
		return err
	}

	logger.Info("shutting down")
	handler.Scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seedConfigs fills an empty renewal_configs table from the seed file, or
// from the built-in presets when no file is configured.
func seedConfigs(ctx context.Context, store *sqldb.Store, path string, logger *zap.Logger) error {
	existing, err := store.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list renewal configs: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	configs := factory.DefaultConfigs()
	source := "built-in presets"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read renewal config file: %w", err)
		}
		if configs, err = factory.NewConfigFactory().ParseConfigs(data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		source = path
	}

	for _, c := range configs {
		if err := store.SaveConfig(ctx, c); err != nil {
			return fmt.Errorf("seed %s config: %w", c.ServiceType, err)
		}
	}
	logger.Info("renewal configs seeded", zap.String("source", source), zap.Int("count", len(configs)))
	return nil
}
