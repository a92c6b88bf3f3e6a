// Package codec converts GeoSamples to and from the compact wire record the
// logger transmits and keeps offline.
package codec

import (
	"fmt"
	"math"
	"time"

	"github.com/example/fleet-tracking/internal/models"
)

const (
	coordScale    = 1e6
	distanceScale = 100
	driverPrefix  = 3
)

var statusCodes = map[models.JourneyStatus]string{
	models.JourneyReady:   "r",
	models.JourneyStarted: "s",
	models.JourneyPaused:  "p",
	models.JourneyEnded:   "e",
}

var statusNames = map[string]models.JourneyStatus{
	"r": models.JourneyReady,
	"s": models.JourneyStarted,
	"p": models.JourneyPaused,
	"e": models.JourneyEnded,
}

// Context carries the session fields that are not part of the sample itself.
type Context struct {
	SessionID  string
	Driver     string
	Unit       string
	DistanceKm float64
	Battery    *int
	Seq        uint64
}

func Encode(s models.GeoSample, c Context) models.CompactRecord {
	return models.CompactRecord{
		Session:  c.SessionID,
		Driver:   prefix(c.Driver, driverPrefix),
		Unit:     c.Unit,
		Lat:      int64(round(s.Lat * coordScale)),
		Lng:      int64(round(s.Lng * coordScale)),
		Speed:    int64(round(s.SpeedKmh)),
		Accuracy: int64(round(s.AccuracyM)),
		TS:       s.Timestamp.UnixMilli(),
		Status:   StatusCode(s.JourneyStatus),
		Distance: int64(round(c.DistanceKm * distanceScale)),
		Battery:  c.Battery,
		Seq:      c.Seq,
	}
}

func Decode(r models.CompactRecord) models.Decoded {
	return models.Decoded{
		SessionID:     r.Session,
		Driver:        r.Driver,
		Unit:          r.Unit,
		Lat:           float64(r.Lat) / coordScale,
		Lng:           float64(r.Lng) / coordScale,
		SpeedKmh:      float64(r.Speed),
		AccuracyM:     float64(r.Accuracy),
		Timestamp:     time.UnixMilli(r.TS).UTC(),
		JourneyStatus: ExpandStatus(r.Status),
		DistanceKm:    float64(r.Distance) / distanceScale,
		Battery:       r.Battery,
		Seq:           r.Seq,
	}
}

func StatusCode(s models.JourneyStatus) string {
	if c, ok := statusCodes[s]; ok {
		return c
	}
	return statusCodes[models.JourneyReady]
}

// ExpandStatus maps a status character back to its journey status; anything
// unknown is treated as ready.
func ExpandStatus(c string) models.JourneyStatus {
	if s, ok := statusNames[c]; ok {
		return s
	}
	return models.JourneyReady
}

// Key is the store key of a record. It only depends on the record, so a
// record written twice lands on the same key.
func Key(r models.CompactRecord) string {
	return fmt.Sprintf("%s_%d_%d", r.Unit, r.TS, r.Seq)
}

// LiveUnit builds the /units/<unit> payload the dashboard reads.
func LiveUnit(r models.CompactRecord, now time.Time) models.LiveUnit {
	d := Decode(r)
	status := string(d.JourneyStatus)
	ts := d.Timestamp.Format(time.RFC3339Nano)
	last := now.Format("15:04:05")
	return models.LiveUnit{
		Lat:           &d.Lat,
		Lng:           &d.Lng,
		Speed:         &d.SpeedKmh,
		Driver:        &d.Driver,
		Timestamp:     &ts,
		JourneyStatus: &status,
		Distance:      &d.DistanceKm,
		LastUpdate:    &last,
		Accuracy:      &d.AccuracyM,
		BatteryLevel:  d.Battery,
		SessionID:     &d.SessionID,
	}
}

// round is half-up, so -2.5 becomes -2.
func round(x float64) float64 { return math.Floor(x + 0.5) }

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
