package codec

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/example/fleet-tracking/internal/models"
)

func TestEncodeFields(t *testing.T) {
	bat := 76
	ts := time.Date(2025, 3, 1, 7, 30, 0, 0, time.UTC)
	rec := Encode(models.GeoSample{
		Lat: -0.4345233, Lng: 102.9674107, SpeedKmh: 42.6, AccuracyM: 8.4,
		Timestamp: ts, JourneyStatus: models.JourneyStarted,
	}, Context{SessionID: "DT_1_abc", Driver: "Budiman", Unit: "DT-06", DistanceKm: 12.346, Battery: &bat, Seq: 7})

	if rec.Driver != "Bud" {
		t.Fatalf("expected 3 char driver prefix, got %q", rec.Driver)
	}
	if rec.Lat != -434523 || rec.Lng != 102967411 {
		t.Fatalf("unexpected fixed point coords %d,%d", rec.Lat, rec.Lng)
	}
	if rec.Speed != 43 || rec.Accuracy != 8 {
		t.Fatalf("unexpected speed/accuracy %d/%d", rec.Speed, rec.Accuracy)
	}
	if rec.Distance != 1235 {
		t.Fatalf("expected distance 1235, got %d", rec.Distance)
	}
	if rec.Status != "s" || rec.TS != ts.UnixMilli() || rec.Seq != 7 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Battery == nil || *rec.Battery != 76 {
		t.Fatalf("expected battery to be carried")
	}
}

func TestWireShape(t *testing.T) {
	rec := Encode(models.GeoSample{Lat: 1, Lng: 2, JourneyStatus: models.JourneyPaused, Timestamp: time.UnixMilli(1000)}, Context{Unit: "DT-07", Driver: "Al"})
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"s", "d", "u", "lt", "ln", "sp", "acc", "ts", "st", "dst", "bat", "n"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing wire key %q in %s", k, b)
		}
	}
	if m["bat"] != nil {
		t.Fatalf("expected null battery, got %v", m["bat"])
	}
}

func TestRoundTripWithinPrecision(t *testing.T) {
	samples := []struct {
		s    models.GeoSample
		dist float64
	}{
		{models.GeoSample{Lat: -0.43, Lng: 102.96, SpeedKmh: 10, AccuracyM: 5, JourneyStatus: models.JourneyStarted}, 0},
		{models.GeoSample{Lat: 45.1234567, Lng: -90.7654321, SpeedKmh: 88.49, AccuracyM: 12.5, JourneyStatus: models.JourneyReady}, 3.14159},
		{models.GeoSample{Lat: -89.9999995, Lng: 179.9999999, SpeedKmh: 0.4, AccuracyM: 999.9, JourneyStatus: models.JourneyEnded}, 1234.565},
		{models.GeoSample{Lat: 0.0000005, Lng: -0.0000005, SpeedKmh: 199.5, AccuracyM: 0, JourneyStatus: models.JourneyPaused}, 0.004},
	}
	for _, tc := range samples {
		tc.s.Timestamp = time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
		d := Decode(Encode(tc.s, Context{Unit: "DT-25", DistanceKm: tc.dist}))
		if math.Abs(d.Lat-tc.s.Lat) > 0.5e-6+1e-9 || math.Abs(d.Lng-tc.s.Lng) > 0.5e-6+1e-9 {
			t.Fatalf("coords drifted: %+v vs %+v", d, tc.s)
		}
		if math.Abs(d.SpeedKmh-tc.s.SpeedKmh) > 0.5 {
			t.Fatalf("speed drifted: %f vs %f", d.SpeedKmh, tc.s.SpeedKmh)
		}
		if math.Abs(d.DistanceKm-tc.dist) > 0.005+1e-9 {
			t.Fatalf("distance drifted: %f vs %f", d.DistanceKm, tc.dist)
		}
		if d.JourneyStatus != tc.s.JourneyStatus {
			t.Fatalf("status changed: %s vs %s", d.JourneyStatus, tc.s.JourneyStatus)
		}
		if !d.Timestamp.Equal(tc.s.Timestamp) {
			t.Fatalf("timestamp changed: %s vs %s", d.Timestamp, tc.s.Timestamp)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	s := models.GeoSample{Lat: -0.4305555, Lng: 102.9611115, SpeedKmh: 12.5, AccuracyM: 2.5, Timestamp: time.UnixMilli(42)}
	a := Encode(s, Context{Unit: "DT-06", DistanceKm: 0.125})
	b := Encode(s, Context{Unit: "DT-06", DistanceKm: 0.125})
	if a != b {
		t.Fatalf("expected identical records: %+v vs %+v", a, b)
	}
	// re-encoding a decoded record reproduces it exactly
	d := Decode(a)
	again := Encode(models.GeoSample{Lat: d.Lat, Lng: d.Lng, SpeedKmh: d.SpeedKmh, AccuracyM: d.AccuracyM, Timestamp: d.Timestamp, JourneyStatus: d.JourneyStatus}, Context{Unit: "DT-06", DistanceKm: d.DistanceKm})
	if again != a {
		t.Fatalf("expected stable fixed point: %+v vs %+v", again, a)
	}
}

func TestHalfUpRounding(t *testing.T) {
	if round(2.5) != 3 || round(-2.5) != -2 || round(-2.6) != -3 {
		t.Fatalf("unexpected rounding")
	}
}

func TestExpandStatusUnknown(t *testing.T) {
	if ExpandStatus("x") != models.JourneyReady || ExpandStatus("") != models.JourneyReady {
		t.Fatalf("expected unknown status to expand to ready")
	}
	if ExpandStatus("e") != models.JourneyEnded {
		t.Fatalf("expected e to expand to ended")
	}
}

func TestKeyIsStable(t *testing.T) {
	r := models.CompactRecord{Unit: "DT-06", TS: 1700000000000, Seq: 3}
	if Key(r) != "DT-06_1700000000000_3" {
		t.Fatalf("unexpected key %s", Key(r))
	}
}

func TestLiveUnitFromRecord(t *testing.T) {
	r := Encode(models.GeoSample{Lat: -0.43, Lng: 102.96, SpeedKmh: 10, JourneyStatus: models.JourneyStarted, Timestamp: time.UnixMilli(5)}, Context{SessionID: "S1", Driver: "Rahmat", Unit: "DT-06", DistanceKm: 1.5})
	lu := LiveUnit(r, time.Date(2025, 1, 1, 8, 9, 10, 0, time.UTC))
	if *lu.Lat != -0.43 || *lu.Lng != 102.96 || *lu.Speed != 10 {
		t.Fatalf("unexpected geometry %+v", lu)
	}
	if *lu.JourneyStatus != "started" || *lu.Driver != "Rah" || *lu.SessionID != "S1" || *lu.Distance != 1.5 {
		t.Fatalf("unexpected fields %+v", lu)
	}
	if *lu.LastUpdate != "08:09:10" {
		t.Fatalf("unexpected last update %s", *lu.LastUpdate)
	}
	if lu.BatteryLevel != nil {
		t.Fatalf("expected nil battery")
	}
}
