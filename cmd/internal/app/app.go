// Package app wires the passshare server runtime: config, logging, stores,
// HTTP routes, the realtime gateway and the expiry reaper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/api"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/blobstore"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/directory"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/metrics"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/migrations"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/realtime"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

const shutdownTimeout = 10 * time.Second

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type stores struct {
	sessions sharing.SessionStore
	blobs    sharing.BlobStore
	users    directory.Creator
}

// App is the passshare server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry
	users    sharing.UserDirectory
	sessions *sharing.Manager
	files    *sharing.Coordinator
	reaper   *sharing.Reaper

	hub   *realtime.Hub
	ws    *realtime.WSGateway
	relay *realtime.RedisFanout
	rdb   *redis.Client

	api *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(reg)

	st, closer, dbPool, dbEnabled, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, cfg, log, reg, mt, st)
	if err != nil {
		_ = closer.Close(ctx)
		return nil, err
	}
	a.store = closer
	a.dbPool = dbPool
	a.dbEnabled = dbEnabled
	return a, nil
}

func wire(ctx context.Context, cfg Config, log Logger, reg *prometheus.Registry, mt *metrics.Metrics, st stores) (*App, error) {
	if len(cfg.SeedUsers) > 0 {
		if _, err := directory.Seed(ctx, log, st.users, cfg.SeedUsers); err != nil {
			return nil, fmt.Errorf("seed users: %w", err)
		}
	}

	mgr, err := sharing.NewManager(st.sessions, st.blobs,
		sharing.WithTTL(nonZeroDuration(cfg.SessionTTL, sharing.DefaultSessionTTL)),
		sharing.WithLogger(log),
		sharing.WithMetrics(mt),
	)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log, mt)

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		users:    st.users,
		sessions: mgr,
		hub:      hub,
	}

	// Uploads and client publishes go through Redis when configured so every
	// instance's subscribers hear about them.
	var publisher realtime.Publisher = hub
	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		relay, err := realtime.NewRedisFanout(log, a.rdb, hub, cfg.RedisChannelPrefix)
		if err != nil {
			_ = a.rdb.Close()
			return nil, err
		}
		a.relay = relay
		publisher = relay
	}

	a.files, err = sharing.NewCoordinator(mgr, st.users, st.blobs, publisher,
		sharing.WithNotifyTimeout(nonZeroDuration(cfg.NotifyTimeout, sharing.DefaultNotifyTimeout)),
	)
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	a.reaper = sharing.NewReaper(mgr,
		sharing.WithInterval(nonZeroDuration(cfg.ReaperInterval, sharing.DefaultReaperInterval)),
	)

	a.ws = realtime.NewWSGateway(log, hub,
		realtime.WithSubscribeGuard(sessionTopicGuard(mgr)),
		realtime.WithPublisher(publisher),
	)

	a.api, err = api.NewHandler(log, mgr, a.files, api.Config{MaxUploadBytes: cfg.MaxUploadBytes},
		api.WithUserDirectory(st.users),
	)
	if err != nil {
		a.closeRedis()
		return nil, err
	}
	return a, nil
}

// sessionTopicGuard only lets clients listen on sessions that are active now.
// Typing topics carry no stored state and are always allowed.
func sessionTopicGuard(m *sharing.Manager) realtime.SubscribeGuard {
	return realtime.SubscribeGuardFunc(func(ctx context.Context, topic string) error {
		passkey, ok := sharing.PasskeyFromTopic(topic)
		if !ok {
			return nil
		}
		_, err := m.GetActiveSession(ctx, passkey)
		return err
	})
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.ws, a.api)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run serves HTTP and runs the reaper (and the Redis relay when configured)
// until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 60*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "redis_enabled", a.relay != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error { return a.reaper.Run(gctx) })

	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.closeRedis()
	// Close store resources (pool etc).
	if cerr := a.store.Close(closeCtx); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}

	if err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeRedis() {
	if a.rdb == nil {
		return
	}
	if err := a.rdb.Close(); err != nil {
		a.log.Error("redis.close.fail", "err", err)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return stores{
			sessions: sharing.NewInMemorySessionStore(),
			blobs:    blobstore.NewInMemoryStore(),
			users:    directory.NewInMemoryStore(),
		}, nopStore{}, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, nil, nil, false, err
	}

	st, err := newPostgresStores(ctx, cfg, log, pool)
	if err != nil {
		pool.Close()
		return stores{}, nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return st, dbStore{pool: pool}, pool, true, nil
}

func newPostgresStores(ctx context.Context, cfg Config, log Logger, pool *pgxpool.Pool) (stores, error) {
	schema := cfg.DBSchema
	if schema == "" {
		schema = "passshare"
	}

	if cfg.DBMigrate {
		if err := migrations.Up(ctx, pool, schema); err != nil {
			return stores{}, err
		}
		log.Info("db.migrations.applied", "schema", schema)
	}

	// Ownership model:
	// - app owns pool lifecycle
	// - each PostgresStore.Close() is a no-op
	sessions, err := sharing.NewPostgresSessionStore(pool, sharing.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	blobs, err := blobstore.NewPostgresStore(pool, blobstore.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	users, err := directory.NewPostgresStore(pool, directory.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	return stores{sessions: sessions, blobs: blobs, users: users}, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
