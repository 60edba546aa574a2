// Package host wires configuration, store, lock, tracing and the admin HTTP
// API into a runnable application.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/petrijr/wfstore/internal/admin"
	"github.com/petrijr/wfstore/internal/config"
	"github.com/petrijr/wfstore/internal/lock"
	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/internal/tracing"
	"github.com/petrijr/wfstore/pkg/api"
)

// MigrationLock is the lock name held while the schema is provisioned.
const MigrationLock = "schema-migration"

// App is a fully wired admin host.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Provider api.PersistenceProvider
	Locker   lock.Locker
	Metrics  *api.BasicMetrics

	owner   string
	handler http.Handler
	closers []func(context.Context) error
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Build creates every dependency described by cfg. On error, whatever was
// already opened is closed again and no App is returned.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: &api.BasicMetrics{},
		owner:   ownerID(),
	}
	if err := app.open(ctx); err != nil {
		app.Logger.DebugContext(ctx, "build failed, releasing resources",
			slog.Int("resources", len(app.closers)),
			slog.Any("error", err),
		)
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			app.Logger.WarnContext(ctx, "release after failed build", slog.Any("error", cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config
	if cfg.Tracing.Enabled {
		_, shutdown, err := tracing.Setup(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, shutdown)
	}

	opts := []persistence.Option{
		persistence.WithLogger(a.Logger),
		persistence.WithObserver(api.NewCompositeObserver(api.NewLoggingObserver(a.Logger), a.Metrics)),
	}
	provider, err := a.openProvider(ctx, opts)
	if err != nil {
		return err
	}
	if cfg.Tracing.Enabled {
		provider = tracing.Wrap(provider, cfg.Store.Driver, nil)
	}
	a.Provider = provider

	locker, err := a.openLocker(ctx)
	if err != nil {
		return err
	}
	a.Locker = locker

	a.handler = admin.NewServer(a.Provider, a.Logger)
	return nil
}

func (a *App) openProvider(ctx context.Context, opts []persistence.Option) (api.PersistenceProvider, error) {
	store := a.Config.Store

	switch store.Driver {
	case config.DriverMemory:
		return persistence.NewInMemoryProvider(opts...), nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(store.DSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, client.Disconnect)
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return persistence.NewMongoProvider(client, store.Database, opts...), nil

	default:
		dialect, err := persistence.DialectByName(store.Driver)
		if err != nil {
			return nil, err
		}
		db, err := persistence.Open(ctx, dialect, store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		return persistence.NewSQLProviderx(db, dialect, opts...), nil
	}
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	addr := a.Config.Lock.RedisAddr
	if addr == "" {
		return lock.NewMemoryLocker(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return lock.NewRedisLocker(client, ""), nil
}

// Migrate provisions the store schema while holding MigrationLock, so that
// several hosts starting together migrate once.
func (a *App) Migrate(ctx context.Context) error {
	ttl := a.Config.Lock.TTL
	return lock.Guard(ctx, a.Locker, a.Logger, MigrationLock, a.owner, ttl, ttl/10, func(ctx context.Context) error {
		start := time.Now()
		if err := a.Provider.EnsureStoreExists(ctx); err != nil {
			return err
		}
		a.Logger.InfoContext(ctx, "store ready",
			slog.String("driver", a.Config.Store.Driver),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	})
}

// Handler returns the admin API handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run listens on the configured address and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Config.HTTP.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the admin API on ln until ctx ends, then shuts the server
// down gracefully within http.shutdown_timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadTimeout:       a.Config.HTTP.ReadTimeout,
		ReadHeaderTimeout: a.Config.HTTP.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "admin api listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.HTTP.ShutdownTimeout)
		defer cancel()
		a.Logger.InfoContext(shutdownCtx, "admin api shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases every resource opened by Build, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
