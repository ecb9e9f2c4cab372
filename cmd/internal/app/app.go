// Package app wires the auth server runtime: configuration, stores, the
// authentication service, HTTP routes and background session sweeping.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/appenteng/ai-assistant/cmd/identity"
	authapi "github.com/appenteng/ai-assistant/cmd/internal/auth/api"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/authn"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/session"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/tokens"
	"github.com/appenteng/ai-assistant/cmd/internal/migrations"
	"github.com/appenteng/ai-assistant/cmd/security/password"
)

// App owns every long-lived resource of the server process.
type App struct {
	cfg Config
	log *slog.Logger

	pool *pgxpool.Pool
	rdb  *redis.Client

	reg      *prometheus.Registry
	metrics  *authn.Metrics
	sessions *session.Service
	sessCfg  session.Config
	auth     *authn.Service
	api      *authapi.Handler
}

// New validates cfg, connects the configured backends and wires the services.
// Component settings are read from the environment by their packages.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	authnCfg, err := authn.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokCfg, err := tokens.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	codec, err := tokens.NewFromConfig(tokCfg)
	if err != nil {
		return nil, err
	}
	digester, err := NewDigester(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, sessCfg: sessCfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		if a.pool, err = NewDBPool(ctx, cfg, log); err != nil {
			return nil, err
		}
		if cfg.MigrateOnStart {
			if err = migratePool(ctx, a.pool); err != nil {
				return nil, err
			}
			log.Info("db.migrated")
		}
	}
	if cfg.RedisURL != "" {
		if a.rdb, err = NewRedisClient(ctx, cfg, log); err != nil {
			return nil, err
		}
	}

	users, err := a.userStore()
	if err != nil {
		return nil, err
	}
	store, err := a.sessionStore()
	if err != nil {
		return nil, err
	}

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = authn.NewMetrics(a.reg)

	a.sessions, err = session.NewService(sessCfg, store, codec, digester, log.With("component", "session"))
	if err != nil {
		return nil, err
	}

	var throttle authn.Throttle = authn.NewMemoryThrottle(authnCfg.MaxLoginFailures, authnCfg.FailureWindow)
	if a.rdb != nil {
		throttle = authn.NewRedisThrottle(a.rdb, cfg.RedisPrefix, authnCfg.MaxLoginFailures, authnCfg.FailureWindow)
	}

	a.auth, err = authn.NewService(authn.Deps{
		Users:    users,
		Hasher:   password.NewHasher(pwCfg.Params),
		Policy:   pwCfg.Policy,
		Codec:    codec,
		Sessions: a.sessions,
	},
		authn.WithLogger(log.With("component", "authn")),
		authn.WithMetrics(a.metrics),
		authn.WithThrottle(throttle),
	)
	if err != nil {
		return nil, err
	}

	apiCfg := authapi.LoadConfigFromEnv()
	var opts []authapi.HandlerOption
	if a.rdb != nil && apiCfg.LoginIPMax > 0 {
		opts = append(opts, authapi.WithIPThrottle(
			authn.NewRedisThrottle(a.rdb, cfg.RedisPrefix, apiCfg.LoginIPMax, apiCfg.LoginIPWindow),
		))
	}
	a.api, err = authapi.NewHandler(log.With("component", "http"), a.auth, apiCfg, opts...)
	if err != nil {
		return nil, err
	}

	log.Info("app.ready",
		"session_backend", cfg.Backend(),
		"users_backend", a.usersBackend(),
		"token_format", string(tokCfg.Format),
		"token_hmac", digester.HMAC(),
	)
	return a, nil
}

func (a *App) usersBackend() string {
	if a.pool != nil {
		return BackendPostgres
	}
	return BackendMemory
}

func (a *App) userStore() (identity.Store, error) {
	if a.pool == nil {
		a.log.Warn("users.inmemory", "hint", "set AUTH_DATABASE_URL to persist accounts")
		return identity.NewMemoryStore(), nil
	}
	var opts []identity.PostgresOption
	if a.cfg.DBSchema != "" {
		opts = append(opts, identity.WithSchema(a.cfg.DBSchema))
	}
	return identity.NewPostgresStore(a.pool, opts...)
}

func (a *App) sessionStore() (session.Store, error) {
	switch a.cfg.Backend() {
	case BackendPostgres:
		return session.NewPostgresStore(a.pool, a.cfg.DBSchema)
	case BackendRedis:
		return session.NewRedisStore(a.rdb, a.cfg.RedisPrefix, a.sessCfg.SweepRetention), nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// Auth exposes the wired authentication service.
func (a *App) Auth() *authn.Service { return a.auth }

// Handler returns the full HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithRequestLogging(WithRecover(WithSecurityHeaders(mux), a.log), a.log)
}

// Run serves HTTP and sweeps sessions until ctx is cancelled or the server
// fails, then shuts down and releases resources.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, defaultReadHeaderTimeout),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, defaultIdleTimeout),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweeper := session.NewSweeper(a.sessions, a.sessCfg.SweepInterval, a.log.With("component", "sweeper"))
	sweeper.OnSwept = a.metrics.Swept

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "backend", a.cfg.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, defaultShutdownTimeout))
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// SweepOnce runs a single purge pass over dead sessions.
func (a *App) SweepOnce(ctx context.Context) (int, error) {
	n, err := a.sessions.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	a.metrics.Swept(n)
	return n, nil
}

// Close releases the database pool and Redis client. It is idempotent.
func (a *App) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Migrate connects to AUTH_DATABASE_URL and applies pending migrations.
func Migrate(ctx context.Context, cfg Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("AUTH_DATABASE_URL is required to migrate")
	}
	pool, err := NewDBPool(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	return migratePool(ctx, pool)
}

// migratePool runs goose over a database/sql view of pool so the pool's
// search_path applies.
func migratePool(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	return migrations.Up(ctx, db)
}
