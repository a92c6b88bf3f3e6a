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
	httpapi "github.com/example/fleet-tracking/internal/http"
	"github.com/example/fleet-tracking/internal/logging"
	"github.com/example/fleet-tracking/internal/offline"
	"github.com/example/fleet-tracking/internal/realtime"
	"github.com/example/fleet-tracking/internal/retry"
	"github.com/example/fleet-tracking/internal/sensor"
	"github.com/example/fleet-tracking/internal/tracker"
	"github.com/example/fleet-tracking/internal/transmit"
)

func main() {
	cfg, err := config.LoadLoggerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New("logger", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("logger stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.LoggerConfig, logger *slog.Logger) error {
	var (
		store realtime.Store
		ready httpapi.ReadyFunc
	)
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rc.Close()
		store = realtime.NewRedis(rc, logger)
		ready = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		logger.Info("real-time store", "backend", "redis", "addr", cfg.Redis.Addr)
	} else {
		store = realtime.NewMemory()
		logger.Info("real-time store", "backend", "memory")
	}

	queue := openQueue(ctx, cfg, logger)
	defer queue.Close()

	var sender transmit.Sender = transmit.NewStoreSender(store)
	if len(cfg.KafkaBrokers) > 0 {
		ks := transmit.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer ks.Close()
		sender = ks
		logger.Info("transmitting via kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	policy := retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay}
	pipeline := transmit.NewPipeline(sender, queue, policy, logger)
	replayer := transmit.NewReplayer(sender, queue, policy, logger)
	replayer.MaxBatch = cfg.ReplayBatch
	replayer.Retention = cfg.OfflineRetention

	source := sensor.NewChannelSource(64)
	tr := tracker.New(tracker.Config{
		SendInterval:        cfg.SendInterval,
		ReplayInterval:      cfg.ReplayInterval,
		PerformanceInterval: cfg.PerformanceInterval,
		PerformanceEvery:    uint64(cfg.PerformanceEvery),
		AutoStartDelay:      cfg.AutoStartDelay,
		ForegroundInterval:  cfg.ForegroundInterval,
		BackgroundInterval:  cfg.BackgroundInterval,
		LowBatteryPct:       cfg.LowBatteryPct,
		FlushTimeout:        cfg.FlushTimeout,
		WriteRetry:          policy,
	}, tracker.Deps{
		Store:    store,
		Pipeline: pipeline,
		Replayer: replayer,
		Source:   source,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.NewLoggerServer(tr, source, logger, ready),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("logger listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	loopDone := make(chan error, 1)
	go func() { loopDone <- tr.Run(ctx) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Run flushes pending records before it returns
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// queueRetryInterval spaces reopen attempts when offline storage could not
// be opened at startup.
const queueRetryInterval = time.Minute

// openQueue never fails: without durable storage the logger keeps tracking
// and live sends still work, failed batches are just dropped.
func openQueue(ctx context.Context, cfg config.LoggerConfig, logger *slog.Logger) offline.Queue {
	backend := "bbolt"
	open := func(context.Context) (offline.Queue, error) {
		q, err := offline.OpenBoltQueue(cfg.OfflinePath, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	if cfg.PGDSN != "" {
		backend = "postgres"
		open = func(ctx context.Context) (offline.Queue, error) {
			q, err := offline.OpenPostgresQueue(ctx, cfg.PGDSN)
			if err != nil {
				return nil, err
			}
			return q, nil
		}
	}
	q, err := open(ctx)
	if err != nil {
		logger.Warn("offline storage unavailable", "backend", backend, "err", err, "retry_in", queueRetryInterval)
		return offline.NewReopeningQueue(open, queueRetryInterval, logger)
	}
	logger.Info("offline queue", "backend", backend, "path", cfg.OfflinePath)
	return q
}
