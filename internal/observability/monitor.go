package observability

import (
	"math"
	"time"

	"github.com/example/fleet-tracking/internal/models"
)

// Monitor tracks the logger's session performance figures. It is not safe
// for concurrent use.
type Monitor struct {
	gpsUpdates    uint64
	transmissions uint64
	errors        uint64
	avgAccuracy   float64
	start         time.Time
	now           func() time.Time
}

func NewMonitor(now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{start: now(), now: now}
}

func (m *Monitor) RecordFix(accuracyM float64) {
	m.gpsUpdates++
	m.avgAccuracy += (accuracyM - m.avgAccuracy) / float64(m.gpsUpdates)
}

func (m *Monitor) RecordTransmission(ok bool) {
	m.transmissions++
	if !ok {
		m.errors++
	}
}

func (m *Monitor) Report() models.PerformanceReport {
	minutes := m.now().Sub(m.start).Minutes()
	r := models.PerformanceReport{
		GPSUpdates:              m.gpsUpdates,
		DataTransmissions:       m.transmissions,
		Errors:                  m.errors,
		AverageAccuracy:         m.avgAccuracy,
		TransmissionSuccessRate: 100,
		UptimeMinutes:           int64(math.Round(minutes)),
	}
	if m.transmissions > 0 {
		r.TransmissionSuccessRate = oneDecimal(float64(m.transmissions-m.errors) / float64(m.transmissions) * 100)
	}
	if minutes > 0 {
		r.DataPointsPerMinute = oneDecimal(float64(m.gpsUpdates) / minutes)
	}
	return r
}

func oneDecimal(v float64) float64 { return math.Round(v*10) / 10 }
