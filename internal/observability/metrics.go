package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "samples_accepted_total", Help: "Location samples that passed validation"})
	SamplesRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "samples_rejected_total", Help: "Location samples rejected by validation"})
	SensorErrors    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "sensor_errors_total", Help: "Sensor error events by kind"}, []string{"kind"})

	SendsTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "sends_total", Help: "Transmission cycles by outcome"}, []string{"result"})
	SendLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "fleet_tracking", Name: "send_latency_seconds", Help: "Transmission cycle latency including retries"})
	SendRetries    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "send_retries_total", Help: "Retried send attempts"})
	PendingSamples = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_tracking", Name: "pending_samples", Help: "Samples waiting for the next send cycle"})

	OfflineStored   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "offline_stored_total", Help: "Records written to the offline queue"})
	OfflineReplayed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "offline_replayed_total", Help: "Offline records replayed and marked synced"})
	OfflineErrors   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "offline_errors_total", Help: "Offline queue failures"})

	SnapshotsApplied  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "snapshots_applied_total", Help: "Live snapshots reconciled into the roster"})
	SnapshotMalformed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "snapshot_keys_malformed_total", Help: "Snapshot keys skipped as malformed"})
	UnitsTracked      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_tracking", Name: "units_tracked", Help: "Units in the roster"})
	UnitsActive       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_tracking", Name: "units_active", Help: "Units whose status is active or moving"})
	FleetDistanceKm   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_tracking", Name: "fleet_distance_km", Help: "Total distance accumulated by the dashboard"})
	WSClients         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_tracking", Name: "ws_clients", Help: "Connected dashboard websocket clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleet_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
