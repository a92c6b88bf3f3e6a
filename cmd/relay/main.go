package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracking/internal/config"
	"github.com/example/fleet-tracking/internal/logging"
	"github.com/example/fleet-tracking/internal/realtime"
	"github.com/example/fleet-tracking/internal/retry"
	"github.com/example/fleet-tracking/internal/transmit"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_consumed_total",
		Help: "Total record messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_invalid_total",
		Help: "Total messages that did not decode as a record",
	})
	storeWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_store_writes_total",
		Help: "Total successful real-time store writes by message kind",
	}, []string{"kind"})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_store_errors_total",
		Help: "Total real-time store writes that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, storeWrites, storeErrors)
}

func main() {
	cfg, err := config.LoadRelayConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()
	logger := logging.New("relay", cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rc.Close()
	sender := transmit.NewStoreSender(realtime.NewRedis(rc, logger))

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("relay listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	rl := &relay{
		sender: sender,
		policy: retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay},
		logger: logger,
	}
	if err := rl.consume(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("shutting down relay")
}

// messageReader is the part of *kafka.Reader the relay uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// consume reads until ctx ends, backing off on broker errors.
func (rl *relay) consume(ctx context.Context, r messageReader) error {
	backoff := initialBackoff
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rl.logger.Warn("kafka read error", "err", err, "backoff", backoff)
			if err := retry.Sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = initialBackoff
		msgsConsumed.Inc()
		_ = rl.apply(ctx, m)
	}
}
