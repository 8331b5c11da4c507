// Package app wires the picked server: configuration, logging, storage, realtime
// fan-out, notifications and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"picked/cmd/internal/api"
	"picked/cmd/internal/auth"
	"picked/cmd/internal/directory"
	"picked/cmd/internal/messaging"
	"picked/cmd/internal/notify"
	"picked/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App owns every long-lived dependency of one server process.
type App struct {
	cfg Config
	log *slog.Logger

	registry *prometheus.Registry

	pool   *pgxpool.Pool
	rdb    *redis.Client
	bridge *realtime.RedisBridge

	tokens  auth.TokenManager
	svc     *messaging.Service
	hub     *realtime.Hub
	gateway *realtime.Gateway
	api     *api.Handler

	handler http.Handler
}

// New connects the configured backends and builds the handler tree. The caller
// owns the returned App and must call Close.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens, err := newTokenManager(cfg, log)
	if err != nil {
		return nil, err
	}
	a.tokens = tokens

	store, profiles, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	rtMetrics := realtime.NewMetrics(a.registry)
	a.hub = realtime.NewHub(log, realtime.WithHubMetrics(rtMetrics))

	var publisher messaging.Publisher = a.hub
	if cfg.RedisAddr != "" {
		rdb, err := realtime.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.rdb = rdb
		// The bridge delivers every published message, including this instance's own,
		// back into the hub. Publishing to the hub as well would deliver twice.
		a.bridge = realtime.NewRedisBridge(log, rdb, a.hub, rtMetrics)
		publisher = a.bridge
		log.Info("realtime.redis.enabled", "addr", cfg.RedisAddr)
	} else {
		log.Info("realtime.redis.disabled", "reason", "no_addr")
	}

	a.svc = messaging.NewService(log, store,
		messaging.WithConfig(cfg.Messaging),
		messaging.WithProfiles(profiles),
		messaging.WithNotifier(notify.New(cfg.Notify, log)),
		messaging.WithPublisher(publisher),
		messaging.WithMetrics(messaging.NewMetrics(a.registry)),
	)
	inbox := messaging.NewInbox(log, store, profiles, cfg.Messaging.StoreTimeout)

	authn := auth.NewAuthenticator(tokens)
	a.gateway = realtime.NewGateway(log, a.hub, a.svc, authn, cfg.WS, rtMetrics)
	a.api = api.NewHandler(log, a.svc, inbox, profiles, authn)
	a.handler = a.routes()
	return a, nil
}

func (a *App) openStores(ctx context.Context) (messaging.Store, directory.Reader, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return messaging.NewMemoryStore(), directory.NewMemory(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.pool = pool

	store, err := messaging.NewPostgresStore(pool, messaging.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	profiles, err := directory.NewPostgres(pool, a.cfg.DBSchema)
	if err != nil {
		return nil, nil, err
	}
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return store, profiles, nil
}

func newTokenManager(cfg Config, log *slog.Logger) (auth.TokenManager, error) {
	ac := cfg.Auth
	if ac.PasetoV4SecretKeyHex == "" {
		ac.PasetoV4SecretKeyHex = auth.GenerateSecretKeyHex()
		log.Warn("auth.key.ephemeral", "hint", "set PICKED_PASETO_V4_SECRET_KEY_HEX; tokens will not survive a restart")
	}
	tm, err := auth.NewPasetoV4PublicManager(ac)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return tm, nil
}

// Handler is the full HTTP handler tree.
func (a *App) Handler() http.Handler { return a.handler }

// Tokens is the access-token issuer shared with the handlers.
func (a *App) Tokens() auth.TokenManager { return a.tokens }

// Run serves HTTP until ctx ends, then drains requests and background notifications.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.Close()
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	// Requests and the bridge outlive ctx until Shutdown has drained them.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		// Hijacked websocket connections are not tracked by Shutdown; they end with baseCtx.
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 2)
	if a.bridge != nil {
		go func() {
			if err := a.bridge.Run(baseCtx); err != nil {
				errCh <- fmt.Errorf("redis bridge: %w", err)
			}
		}()
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	addr := ln.Addr().String()
	base := runtimeBaseURL(addr)
	a.log.Info("server.start",
		"addr", addr,
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.pool != nil,
		"redis_enabled", a.rdb != nil,
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 15*time.Second))
	defer done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	cancelBase()
	if err := a.svc.Wait(shutdownCtx); err != nil {
		a.log.Warn("messaging.notify.drain.fail", "err", err)
	}
	a.Close()

	a.log.Info("server.stopped")
	return runErr
}

// Close releases the Redis client and the database pool. It is safe to call more than once.
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

func pingRedis(parent context.Context, rdb *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
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
