/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the medication adherence server.
  Handles configuration, dependency injection, the daily scheduler and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, MEDPLAN_* variables, flags)
  2. Build the logger
  3. Initialize SQLite store
  4. Create API handler and router
  5. Start the daily plan scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     optional .env file (default: .env)
  -port    HTTP server port, overrides MEDPLAN_PORT
  -db      SQLite database path, overrides MEDPLAN_DB
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/adherence.db"

  # Run with in-memory database and JSON logs
  MEDPLAN_LOG_FORMAT=json ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Variables and defaults
  - api/server.go: Router configuration
  - api/scheduler.go: Daily materialization
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medguardian/adherence-engine/api"
	"github.com/medguardian/adherence-engine/config"
	"github.com/medguardian/adherence-engine/logging"
	"github.com/medguardian/adherence-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	envFile := flag.String("env", ".env", "optional .env file")
	port := flag.Int("port", 0, "HTTP server port (overrides MEDPLAN_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides MEDPLAN_DB)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(api.Deps{
		Store: store,
		Runs:  store,
		Users: store,
		Auth:  api.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL),
		Log:   log,

		PasswordCost: cfg.BcryptCost,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Scenarios:   !cfg.IsProd(),
	})

	scheduler := api.NewDailyPlanScheduler(handler)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "env", cfg.Env, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
