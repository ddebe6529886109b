/*
main.go - Application entry point

PURPOSE:
  Starts the kerupuk delivery ledger server. Loads configuration, opens
  the store, wires the services and serves HTTP until SIGINT/SIGTERM.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file, env, flags)
  2. Build the zap logger
  3. Open the store (SQLite or Postgres) and apply migrations
  4. Choose the session registry (memory, or Redis when configured)
  5. Wire accounts, ledger, gate, reporting engine and HTTP handler
  6. Start server with graceful shutdown

COMMANDS:
  server [flags]            Serve HTTP
  server migrate [flags]    Apply migrations and exit

COMMAND-LINE FLAGS:
  -config  YAML config file (default: config.yaml, optional)
  -port    HTTP server port (overrides server.port)
  -db      Database DSN: SQLite path or Postgres DSN, per storage.driver
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the session sweeper, close Redis and the database
  4. Exit

EXAMPLES:
  # Run against an existing kerupuk.db
  KERUPUK_JWT_SECRET=s3cret ./server -db=./kerupuk.db

  # Upgrade the schema only
  ./server migrate -config=prod.yaml

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
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

	"go.uber.org/zap"

	"github.com/dhn/kerupuk-ledger/api"
	"github.com/dhn/kerupuk-ledger/config"
	"github.com/dhn/kerupuk-ledger/ledger"
	"github.com/dhn/kerupuk-ledger/logging"
	"github.com/dhn/kerupuk-ledger/report"
	"github.com/dhn/kerupuk-ledger/session"
	"github.com/dhn/kerupuk-ledger/store/gormstore"
	"github.com/dhn/kerupuk-ledger/store/sqlite"
)

// backend is what every storage driver provides.
type backend interface {
	ledger.Store
	api.Pinger
	Close() error
}

func main() {
	args := os.Args[1:]
	migrateOnly := len(args) > 0 && args[0] == "migrate"
	if migrateOnly {
		args = args[1:]
	}

	// Flags
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "YAML config file")
	port := fs.Int("port", 0, "HTTP server port")
	dsn := fs.String("db", "", "database DSN (SQLite path or Postgres DSN)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(fs, *configPath, *port, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if migrateOnly {
		err = migrate(cfg, log)
	} else {
		err = serve(cfg, log)
	}
	if err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

// loadConfig reads the config file, applies the flags that were set and
// validates the result. A flag may supply a value the file leaves out.
func loadConfig(fs *flag.FlagSet, path string, port int, dsn string) (*config.Config, error) {
	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = port
		case "db":
			cfg.SetDSN(dsn)
		}
	})
	return cfg, cfg.Validate()
}

// =============================================================================
// COMMANDS
// =============================================================================

func migrate(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	if cfg.Storage.Driver == config.DriverPostgres {
		// gormstore migrates on open.
		st, err := gormstore.OpenPostgres(cfg.Storage.PostgresDSN, gormstore.WithLogger(log))
		if err != nil {
			return err
		}
		log.Info("postgres schema is up to date")
		return st.Close()
	}

	st, err := sqlite.Open(cfg.Storage.SQLitePath, sqlite.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	applied, err := st.Migrate(ctx)
	for _, m := range applied {
		log.Info("migration applied", zap.Int("version", m.Version), zap.String("name", m.Name))
	}
	if err != nil {
		return err
	}
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	log.Info("sqlite schema is up to date", zap.Int("version", version), zap.String("path", cfg.Storage.SQLitePath))
	return nil
}

func serve(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	st, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer st.Close()

	// Session registry
	var registry session.Registry
	if cfg.Session.RedisAddr != "" {
		client, err := session.DialRedis(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()
		registry = session.NewRedisRegistry(client, cfg.Session.KeyPrefix)
		log.Info("sessions stored in redis", zap.String("addr", cfg.Session.RedisAddr))
	} else {
		mem := session.NewMemoryRegistry()
		sweeper := session.NewSweeper(mem, time.Minute, log)
		sweeper.Start()
		defer sweeper.Stop()
		registry = mem
	}

	// Services
	accounts := ledger.NewAccounts(st, ledger.NewPasswordHasher(cfg.Auth.BcryptCost))
	accounts.SetLogger(log)
	l := ledger.New(st)
	gate := session.NewGate(accounts, session.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL), registry)
	engine := report.NewEngine(l, accounts, report.Options{
		RatePerUnit: cfg.Payroll.RatePerUnit,
		Location:    cfg.Location(),
	})

	if has, err := accounts.HasAdmin(ctx); err == nil && !has {
		log.Warn("no admin account yet; the next registration becomes admin")
	}

	handler := api.NewHandler(api.Deps{
		Accounts: accounts,
		Ledger:   l,
		Engine:   engine,
		Gate:     gate,
		Store:    st,
		Logger:   log,
	})
	router := api.NewRouter(handler, cfg.Server.CORS)

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Storage.Driver),
			zap.String("timezone", cfg.Report.Timezone),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func openStore(cfg *config.Config, log *zap.Logger) (backend, error) {
	if cfg.Storage.Driver == config.DriverPostgres {
		return gormstore.OpenPostgres(cfg.Storage.PostgresDSN, gormstore.WithLogger(log))
	}
	return sqlite.New(cfg.Storage.SQLitePath, sqlite.WithLogger(log))
}
