package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-tracking/internal/config"
	"github.com/example/fleet-tracking/internal/dispatch"
	"github.com/example/fleet-tracking/internal/fleet"
	"github.com/example/fleet-tracking/internal/geo"
	httpapi "github.com/example/fleet-tracking/internal/http"
	"github.com/example/fleet-tracking/internal/logging"
	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/realtime"
	"github.com/example/fleet-tracking/internal/retry"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// positionIndex is a geo index that is fed by roster renders.
type positionIndex interface {
	geo.Geo
	fleet.Renderer
}

func main() {
	cfg, err := config.LoadDashboardConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New("dashboard", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dashboard stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.DashboardConfig, logger *slog.Logger) error {
	var (
		store realtime.Store
		index positionIndex
		ready httpapi.ReadyFunc
	)
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rc.Close()
		store = realtime.NewRedis(rc, logger)
		index = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		ready = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		logger.Info("real-time store", "backend", "redis", "addr", cfg.Redis.Addr)
	} else {
		store = realtime.NewMemory()
		index = geo.NewIndex()
		logger.Info("real-time store", "backend", "memory")
	}

	hub := dispatch.NewHub(logger)
	engine := fleet.NewEngine(fleet.MultiRenderer{hub, index}, logger)
	go func() { _ = engine.Run(ctx) }()

	if err := seed(ctx, cfg, store, engine, logger); err != nil {
		return err
	}
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		follow(ctx, store, cfg.UnitsPath, func(snap realtime.Snapshot) {
			engine.Submit(ctx, snap)
		}, logger, initialBackoff, maxBackoff)
	}()

	srv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     httpapi.NewDashboardServer(engine, index, hub, logger, ready),
		ReadTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout: cfg.HTTP.IdleTimeout,
		// no WriteTimeout: websocket connections are long-lived
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("dashboard listening", "addr", cfg.HTTP.Addr, "units_path", cfg.UnitsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-followed
	return err
}

// follow subscribes to path, retrying with a capped doubling backoff while
// the store is unreachable. It holds the subscription until ctx ends.
func follow(ctx context.Context, store realtime.Store, path string, fn func(realtime.Snapshot), logger *slog.Logger, initial, ceiling time.Duration) {
	backoff := initial
	for {
		unsubscribe, err := store.Subscribe(ctx, path, fn)
		if err == nil {
			logger.Info("following live units", "path", path)
			<-ctx.Done()
			unsubscribe()
			return
		}
		logger.Warn("units subscription failed", "err", err, "backoff", backoff)
		if err := retry.Sleep(ctx, backoff); err != nil {
			return
		}
		backoff *= 2
		if backoff > ceiling {
			backoff = ceiling
		}
	}
}

// seed shows the simulated fleet until the live feed has something to say.
func seed(ctx context.Context, cfg config.DashboardConfig, store realtime.Store, engine *fleet.Engine, logger *slog.Logger) error {
	snap, err := store.Once(ctx, cfg.UnitsPath)
	if err != nil {
		logger.Warn("initial units read failed", "err", err)
	}
	if len(snap) > 0 {
		return nil
	}
	var units []models.UnitSnapshot
	if cfg.SimulatedFleetPath != "" {
		if units, err = fleet.LoadSimulated(cfg.SimulatedFleetPath); err != nil {
			return err
		}
	} else {
		units = fleet.DefaultSimulated()
	}
	logger.Info("no live units yet, showing simulated fleet", "units", len(units))
	engine.SubmitSeed(ctx, units)
	return nil
}
