// Package server initializes and runs the gophauth server: it opens the
// configured credential store, applies migrations, seeds the admin account
// and serves the HTTP API until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/filex"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/httpapi"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/sethvargo/go-retry"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	userService *services.UserService
	metrics     *metrics.Metrics
}

// connectBackoff is the retry policy for the first database ping.
var connectBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger, err := logging.New(c.LogBackend, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	if c.SecretKey == "" {
		secret, err := common.MakeRandHexString(32)
		if err != nil {
			return nil, fmt.Errorf("secret generation error: %w", err)
		}
		c.SecretKey = secret
		logger.Warn(ctx, "no secret key configured, using an ephemeral one: tokens will not survive a restart")
	}

	repo, db, err := openStore(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	us, err := services.NewUserService(repo, c, logger)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("service init error: %w", err)
	}

	if c.AdminEmail != "" && c.AdminPassword != "" {
		if err := us.EnsureAdmin(ctx, c.AdminEmail, c.AdminPassword); err != nil {
			closeDB(db)
			return nil, fmt.Errorf("admin seed error: %w", err)
		}
	}

	for _, w := range startupWarnings(c) {
		logger.Warn(ctx, w)
	}

	return &App{config: c, logger: logger, db: db, userService: us, metrics: metrics.New()}, nil
}

// startupWarnings lists insecure settings to flag when the server starts.
func startupWarnings(c *config.Config) []string {
	var w []string
	if c.SecretKey == config.DefaultSecretKey {
		w = append(w, "default secret key in use: session tokens can be forged, set GOPHAUTH_SECRET or -s")
	}
	if c.OTPEcho {
		w = append(w, "OTP echo is on: one-time codes are returned in login responses")
	}
	return w
}

// openStore returns the credential store for the configured backend. The
// *sql.DB is nil for the in-memory store.
func openStore(ctx context.Context, c *config.Config, logger logging.Logger) (users.Repository, *sql.DB, error) {
	var m repomanager.RepositoryManager

	switch c.StorageBackend {
	case config.StorageMemory:
		logger.Warn(ctx, "using in-memory storage, accounts are lost on restart")
		return users.NewInMemoryRepository(), nil, nil
	case config.StorageSQLite:
		if f := filex.SQLiteFile(c.DatabaseDSN); f != "" {
			if _, err := filex.EnsureParentDir(f); err != nil {
				return nil, nil, err
			}
		}
		m = repomanager.NewSQLiteRepositoryManager()
	case config.StoragePostgres:
		m = repomanager.NewPostgresRepositoryManager()
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	db, err := sql.Open(m.DriverName(), c.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if c.StorageBackend == config.StorageSQLite {
		// one writer at a time; busy_timeout in the DSN handles the rest
		db.SetMaxOpenConns(1)
	}

	err = retry.Do(ctx, connectBackoff(), func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn(ctx, "database not ready", "backend", c.StorageBackend, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	if err := m.RunMigrations(ctx, db); err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}

	logger.Info(ctx, "storage ready", "backend", c.StorageBackend)
	return m.Users(db), db, nil
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}

// Run serves HTTP until ctx is cancelled or SIGINT/SIGTERM/SIGQUIT arrives.
func (app *App) Run(ctx context.Context) error {

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	s := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger, app.userService, app.metrics)
	err := s.Run(ctx)
	if err != nil {
		app.logger.Error(ctx, err.Error())
	}

	closeDB(app.db)
	app.logger.Info(context.Background(), "App stopped")
	return err
}
