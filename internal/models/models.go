package models

import "time"

type JourneyStatus string

const (
	JourneyReady   JourneyStatus = "ready"
	JourneyStarted JourneyStatus = "started"
	JourneyPaused  JourneyStatus = "paused"
	JourneyEnded   JourneyStatus = "ended"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RawFix is a location reading as delivered by the sensor, before validation.
type RawFix struct {
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	SpeedMps  *float64  `json:"speed"` // null when the device cannot derive it
	AccuracyM float64   `json:"accuracy"`
	Heading   *float64  `json:"heading,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Battery   *int      `json:"battery,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (f RawFix) SpeedKmh() float64 {
	if f.SpeedMps == nil {
		return 0
	}
	return *f.SpeedMps * 3.6
}

// GeoSample is one accepted GPS fix. It is never mutated after capture.
type GeoSample struct {
	Lat           float64       `json:"lat"`
	Lng           float64       `json:"lng"`
	SpeedKmh      float64       `json:"speed"`
	AccuracyM     float64       `json:"accuracy"`
	Heading       *float64      `json:"heading,omitempty"`
	Altitude      *float64      `json:"altitude,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	JourneyStatus JourneyStatus `json:"journeyStatus"`
}

func (s GeoSample) Position() Coord { return Coord{Lat: s.Lat, Lng: s.Lng} }

// TripState is the producer's per-session aggregate.
type TripState struct {
	SessionID    string  `json:"sessionId"`
	DistanceKm   float64 `json:"distanceKm"`
	LastPosition *Coord  `json:"lastPosition,omitempty"`
	SampleCount  uint64  `json:"sampleCount"`
}

// CompactRecord is the reduced-precision wire form of a GeoSample.
type CompactRecord struct {
	Session  string `json:"s"`
	Driver   string `json:"d"`
	Unit     string `json:"u"`
	Lat      int64  `json:"lt"`
	Lng      int64  `json:"ln"`
	Speed    int64  `json:"sp"`
	Accuracy int64  `json:"acc"`
	TS       int64  `json:"ts"`
	Status   string `json:"st"`
	Distance int64  `json:"dst"`
	Battery  *int   `json:"bat"`
	Seq      uint64 `json:"n"`
}

// Decoded is the canonical shape recovered from a CompactRecord.
type Decoded struct {
	SessionID     string        `json:"sessionId"`
	Driver        string        `json:"driver"`
	Unit          string        `json:"unit"`
	Lat           float64       `json:"lat"`
	Lng           float64       `json:"lng"`
	SpeedKmh      float64       `json:"speed"`
	AccuracyM     float64       `json:"accuracy"`
	Timestamp     time.Time     `json:"timestamp"`
	JourneyStatus JourneyStatus `json:"journeyStatus"`
	DistanceKm    float64       `json:"distance"`
	Battery       *int          `json:"batteryLevel"`
	Seq           uint64        `json:"seq"`
}

type OfflineEntry struct {
	ID         uint64        `json:"id"`
	Record     CompactRecord `json:"record"`
	Synced     bool          `json:"synced"`
	CapturedAt time.Time     `json:"capturedAt"`
}

// LiveUnit is one child of the /units path as read from the real-time store.
// Every field is optional so that an absent key can be told apart from a zero.
type LiveUnit struct {
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	Driver        *string  `json:"driver,omitempty"`
	Timestamp     *string  `json:"timestamp,omitempty"`
	JourneyStatus *string  `json:"journeyStatus,omitempty"`
	Distance      *float64 `json:"distance,omitempty"`
	LastUpdate    *string  `json:"lastUpdate,omitempty"`
	Accuracy      *float64 `json:"accuracy,omitempty"`
	BatteryLevel  *int     `json:"batteryLevel,omitempty"`
	SessionID     *string  `json:"sessionId,omitempty"`
}

type UnitStatus string

const (
	StatusMoving   UnitStatus = "moving"
	StatusActive   UnitStatus = "active"
	StatusInactive UnitStatus = "inactive"
)

// UnitSnapshot is the dashboard's live record for one unit.
type UnitSnapshot struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Afdeling string `json:"afdeling"`
	Year     string `json:"year"`
	Block    string `json:"block,omitempty"`

	Position Coord      `json:"position"`
	SpeedKmh float64    `json:"speed"`
	Status   UnitStatus `json:"status"`
	Driver   string     `json:"driver"`
	Accuracy *float64   `json:"accuracy,omitempty"`
	Battery  *int       `json:"batteryLevel,omitempty"`
	LastSeen string     `json:"lastUpdate"`

	DistanceKm   float64 `json:"distance"`
	FuelUsedL    float64 `json:"fuelUsed"`
	FuelLevelPct float64 `json:"fuelLevel"`

	SessionID         string  `json:"sessionId,omitempty"`
	SessionDistanceKm float64 `json:"sessionDistance"`
	SessionFuelUsedL  float64 `json:"sessionFuelUsed"`
	ReportedTripKm    float64 `json:"reportedTripDistance"`

	Simulated    bool   `json:"simulated,omitempty"`
	LastPosition *Coord `json:"-"`
}

type FleetStats struct {
	ActiveUnits     int     `json:"activeUnits"`
	TotalUnits      int     `json:"totalUnits"`
	TotalDistanceKm float64 `json:"totalDistance"`
	AvgSpeedKmh     float64 `json:"avgSpeed"`
	TotalFuelL      float64 `json:"totalFuel"`
}

type PerformanceReport struct {
	GPSUpdates              uint64  `json:"gpsUpdates"`
	DataTransmissions       uint64  `json:"dataTransmissions"`
	Errors                  uint64  `json:"errors"`
	AverageAccuracy         float64 `json:"averageAccuracy"`
	TransmissionSuccessRate float64 `json:"transmissionSuccessRate"`
	DataPointsPerMinute     float64 `json:"dataPointsPerMinute"`
	UptimeMinutes           int64   `json:"uptime"`
}

type SessionSummary struct {
	SessionID       string            `json:"sessionId"`
	Driver          string            `json:"driver"`
	Unit            string            `json:"unit"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         time.Time         `json:"endTime"`
	DurationSeconds int64             `json:"duration"`
	TotalDistanceKm float64           `json:"totalDistance"`
	DataPoints      uint64            `json:"dataPoints"`
	AvgSpeedKmh     float64           `json:"avgSpeed"`
	JourneyStatus   JourneyStatus     `json:"journeyStatus"`
	Performance     PerformanceReport `json:"performance"`
}

type IssueReport struct {
	Type      string    `json:"type"`
	Driver    string    `json:"driver"`
	Unit      string    `json:"unit"`
	Issue     string    `json:"issue"`
	Timestamp time.Time `json:"timestamp"`
	Location  *Coord    `json:"location,omitempty"`
	SessionID string    `json:"sessionId"`
}
