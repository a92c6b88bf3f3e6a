package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPConfig holds the listener settings shared by the HTTP processes.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
}

// LoggerConfig captures all tunable parameters for the driver-side logger.
// Values are loaded from environment variables with defaults matching the
// mobile client, so the binary runs locally without any setup.
type LoggerConfig struct {
	HTTP  HTTPConfig
	Redis RedisConfig

	KafkaBrokers []string
	KafkaTopic   string

	OfflinePath      string
	PGDSN            string
	OfflineRetention time.Duration
	ReplayBatch      int

	SendInterval        time.Duration
	ReplayInterval      time.Duration
	PerformanceInterval time.Duration
	PerformanceEvery    int
	AutoStartDelay      time.Duration
	ForegroundInterval  time.Duration
	BackgroundInterval  time.Duration
	LowBatteryPct       int
	FlushTimeout        time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration

	LogLevel string
}

// DashboardConfig captures the consumer-side process settings.
type DashboardConfig struct {
	HTTP  HTTPConfig
	Redis RedisConfig

	RedisGeoKey        string
	UnitsPath          string
	SimulatedFleetPath string

	LogLevel string
}

// RelayConfig configures the Kafka to real-time store relay.
type RelayConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	Redis        RedisConfig

	MaxRetries     int
	RetryBaseDelay time.Duration

	LogLevel string
}

func defaultHTTPConfig(addr string) HTTPConfig {
	return HTTPConfig{
		Addr:            addr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

func defaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		HTTP:                defaultHTTPConfig(":8081"),
		KafkaTopic:          "gps-records",
		OfflinePath:         "offline.db",
		OfflineRetention:    7 * 24 * time.Hour,
		ReplayBatch:         100,
		SendInterval:        time.Second,
		ReplayInterval:      30 * time.Second,
		PerformanceInterval: 60 * time.Second,
		PerformanceEvery:    60,
		AutoStartDelay:      3 * time.Second,
		ForegroundInterval:  time.Second,
		BackgroundInterval:  5 * time.Second,
		LowBatteryPct:       20,
		FlushTimeout:        20 * time.Second,
		MaxRetries:          3,
		RetryBaseDelay:      time.Second,
		LogLevel:            "info",
	}
}

func defaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		HTTP:        defaultHTTPConfig(":8080"),
		RedisGeoKey: "fleet_geo",
		UnitsPath:   "/units",
		LogLevel:    "info",
	}
}

func defaultRelayConfig() RelayConfig {
	return RelayConfig{
		MetricsAddr:    ":2112",
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "gps-records",
		KafkaGroup:     "fleet-relay",
		Redis:          RedisConfig{Addr: "localhost:6379"},
		MaxRetries:     3,
		RetryBaseDelay: 200 * time.Millisecond,
		LogLevel:       "info",
	}
}

func LoadLoggerConfig() (LoggerConfig, error) {
	cfg := defaultLoggerConfig()
	var errs []error

	loadHTTP(&cfg.HTTP, &errs)
	loadRedis(&cfg.Redis)
	loadKafka(&cfg.KafkaBrokers, &cfg.KafkaTopic)

	setStringFromEnv(&cfg.OfflinePath, "OFFLINE_PATH")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setDurationFromEnv(&cfg.OfflineRetention, "OFFLINE_RETENTION", &errs)
	setIntFromEnv(&cfg.ReplayBatch, "REPLAY_BATCH", &errs)

	setDurationFromEnv(&cfg.SendInterval, "SEND_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ReplayInterval, "REPLAY_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PerformanceInterval, "PERFORMANCE_INTERVAL", &errs)
	setIntFromEnv(&cfg.PerformanceEvery, "PERFORMANCE_EVERY", &errs)
	setDurationFromEnv(&cfg.AutoStartDelay, "AUTO_START_DELAY", &errs)
	setDurationFromEnv(&cfg.ForegroundInterval, "GPS_FOREGROUND_INTERVAL", &errs)
	setDurationFromEnv(&cfg.BackgroundInterval, "GPS_BACKGROUND_INTERVAL", &errs)
	setIntFromEnv(&cfg.LowBatteryPct, "LOW_BATTERY_PCT", &errs)
	setDurationFromEnv(&cfg.FlushTimeout, "FLUSH_TIMEOUT", &errs)

	setIntFromEnv(&cfg.MaxRetries, "SEND_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryBaseDelay, "SEND_RETRY_BASE_DELAY", &errs)

	loadLogLevel(&cfg.LogLevel)

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"SEND_INTERVAL", cfg.SendInterval},
		{"REPLAY_INTERVAL", cfg.ReplayInterval},
		{"PERFORMANCE_INTERVAL", cfg.PerformanceInterval},
		{"GPS_FOREGROUND_INTERVAL", cfg.ForegroundInterval},
		{"GPS_BACKGROUND_INTERVAL", cfg.BackgroundInterval},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", d.name))
		}
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("SEND_MAX_RETRIES must be >= 0"))
	}
	if cfg.LowBatteryPct < 0 || cfg.LowBatteryPct > 100 {
		errs = append(errs, fmt.Errorf("LOW_BATTERY_PCT must be within 0..100"))
	}
	if cfg.PerformanceEvery <= 0 {
		errs = append(errs, fmt.Errorf("PERFORMANCE_EVERY must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadDashboardConfig() (DashboardConfig, error) {
	cfg := defaultDashboardConfig()
	var errs []error

	loadHTTP(&cfg.HTTP, &errs)
	loadRedis(&cfg.Redis)
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.UnitsPath, "UNITS_PATH")
	setStringFromEnv(&cfg.SimulatedFleetPath, "SIMULATED_FLEET")
	loadLogLevel(&cfg.LogLevel)

	if !strings.HasPrefix(cfg.UnitsPath, "/") {
		errs = append(errs, fmt.Errorf("UNITS_PATH must start with /"))
	}

	return cfg, errors.Join(errs...)
}

func LoadRelayConfig() (RelayConfig, error) {
	cfg := defaultRelayConfig()
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.Redis.Addr, "REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	setIntFromEnv(&cfg.MaxRetries, "RELAY_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryBaseDelay, "RELAY_RETRY_BASE_DELAY", &errs)
	loadLogLevel(&cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("RELAY_MAX_RETRIES must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func loadHTTP(cfg *HTTPConfig, errs *[]error) {
	setStringFromEnv(&cfg.Addr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", errs)
}

func loadRedis(cfg *RedisConfig) {
	cfg.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Password = os.Getenv("REDIS_PASSWORD")
}

func loadKafka(brokers *[]string, topic *string) {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		*brokers = splitAndTrim(v)
	}
	setStringFromEnv(topic, "KAFKA_TOPIC")
}

func loadLogLevel(level *string) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*level = strings.ToLower(v)
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
