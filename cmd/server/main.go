/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reminder engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load the YAML config
  2. Open the configured store (memory, sqlite, postgres, firestore)
  3. Build the preference cache, in-app inbox and channel senders
  4. Start the dispatcher on its cron schedule
  5. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: config.yaml, created when missing)
  -listen  Overrides the listen address from the config
  -db      Overrides the store driver (memory, sqlite, postgres, firestore)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the dispatcher schedule
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with the defaults (SQLite file under ./data)
  ./server

  # Run without persistence
  ./server -db=memory

  # Run on a different port
  ./server -listen=:3000

SEE ALSO:
  - config/config.go: Config file schema
  - api/server.go: Router configuration
  - notify/dispatcher.go: Background delivery
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/marketclock/reminder-engine/api"
	"github.com/marketclock/reminder-engine/applog"
	"github.com/marketclock/reminder-engine/config"
	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store"
	"github.com/marketclock/reminder-engine/notify"
	"github.com/marketclock/reminder-engine/store/firestore"
	"github.com/marketclock/reminder-engine/store/postgres"
	"github.com/marketclock/reminder-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "YAML config path")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	driver := flag.String("db", "", "Store driver (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		applog.Error("failed to load config", err, "path", *configPath)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *driver != "" {
		cfg.Store.Driver = *driver
		cfg.Normalize()
	}
	applog.SetLevel(applog.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		applog.Error("failed to initialize store", err, "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer st.Close()

	clk := clock.New()
	policy := cfg.EnginePolicy()
	prefs := engine.NewPreferenceCache(st, cfg.DefaultPreferences())
	inbox := notify.NewInAppInbox(0)

	dispatcher := notify.NewDispatcher(st, prefs, policy, clk, senders(cfg.Push, inbox), notify.Options{})
	if cfg.Dispatcher.Disabled {
		applog.Info("dispatcher disabled by config")
	} else {
		if err := dispatcher.Start(ctx, cfg.Dispatcher.Schedule); err != nil {
			applog.Error("failed to start dispatcher", err, "schedule", cfg.Dispatcher.Schedule)
			os.Exit(1)
		}
		defer dispatcher.Stop()
	}

	handler := api.NewHandler(st, api.Options{
		Policy:     policy,
		Timezone:   cfg.Timezone,
		Prefs:      prefs,
		Inbox:      inbox,
		Dispatcher: dispatcher,
		Clock:      clk,
	})
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	// WriteTimeout stays zero so the SSE stream is not cut off.
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		applog.Info("server starting", "listen", cfg.Listen, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Error("server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	applog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		applog.Error("server forced to shutdown", err)
	}
	applog.Info("server stopped")
}

// openStore opens the backend selected by the config.
func openStore(ctx context.Context, cfg config.StoreConfig) (engine.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverPostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, errors.New("postgres driver needs store.postgres_dsn or DATABASE_URL")
		}
		return postgres.New(ctx, dsn)
	case config.DriverFirestore:
		project := cfg.FirestoreProject
		if project == "" {
			project = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		if project == "" {
			return nil, errors.New("firestore driver needs store.firestore_project or GOOGLE_CLOUD_PROJECT")
		}
		return firestore.New(ctx, project)
	case config.DriverSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.New(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// senders maps each channel to its delivery. Without a webhook, browser
// and push deliveries are only logged.
func senders(cfg config.PushConfig, inbox *notify.InAppInbox) map[engine.Channel]notify.Sender {
	var remote notify.Sender = notify.LogSender{}
	if cfg.WebhookURL != "" {
		remote = notify.NewWebhookSender(cfg.WebhookURL)
	}
	return map[engine.Channel]notify.Sender{
		engine.ChannelInApp:   inbox,
		engine.ChannelBrowser: remote,
		engine.ChannelPush:    remote,
	}
}
