package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-tracking/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(-0.43, 102.96, -0.43, 102.96)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{-0.43, 102.96, -0.431, 102.96},
		{0, 0, 10, 10},
		{51.5, -0.12, 48.85, 2.35},
		{-89.9, 179.9, 89.9, -179.9},
	}
	for _, p := range pairs {
		ab := Haversine(p[0], p[1], p[2], p[3])
		ba := Haversine(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric distance for %v: %f vs %f", p, ab, ba)
		}
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one thousandth of a degree of latitude is ~111 m
	d := Haversine(-0.43, 102.96, -0.431, 102.96)
	if d < 0.110 || d > 0.1125 {
		t.Fatalf("expected ~0.111km, got %f", d)
	}
}

func speed(kmh float64) *float64 {
	mps := kmh / 3.6
	return &mps
}

func valid(f models.RawFix) bool { return Validate(f) == nil }

func TestValidateBoundaries(t *testing.T) {
	if err := Validate(models.RawFix{Lat: 91, Lng: 90, AccuracyM: 10, SpeedMps: speed(50)}); !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected latitude 91 to be rejected, got %v", err)
	}
	if err := Validate(models.RawFix{Lat: 45, Lng: 90, AccuracyM: 10, SpeedMps: speed(50)}); err != nil {
		t.Fatalf("expected valid sample, got %v", err)
	}
	if valid(models.RawFix{Lat: 0, Lng: -181, AccuracyM: 10}) {
		t.Fatalf("expected longitude -181 to be rejected")
	}
	if valid(models.RawFix{Lat: 0, Lng: 0, AccuracyM: 1000.5}) {
		t.Fatalf("expected poor accuracy to be rejected")
	}
	if valid(models.RawFix{Lat: 0, Lng: 0, AccuracyM: 5, SpeedMps: speed(201)}) {
		t.Fatalf("expected 201km/h to be rejected")
	}
	if !valid(models.RawFix{Lat: 0, Lng: 0, AccuracyM: 1000}) {
		t.Fatalf("expected null speed and 1000m accuracy to pass")
	}
}

func TestSampleDerivesSpeed(t *testing.T) {
	mps := 10.0
	s := Sample(models.RawFix{Lat: 1, Lng: 2, SpeedMps: &mps, AccuracyM: 4}, models.JourneyStarted)
	if math.Abs(s.SpeedKmh-36) > 1e-9 {
		t.Fatalf("expected 36km/h, got %f", s.SpeedKmh)
	}
	if s.JourneyStatus != models.JourneyStarted {
		t.Fatalf("unexpected status %s", s.JourneyStatus)
	}
}

func TestAccumulatorPolicy(t *testing.T) {
	acc := DefaultAccumulator()
	prev := &models.Coord{Lat: -0.43, Lng: 102.96}
	near := models.Coord{Lat: -0.4305, Lng: 102.96}

	if got := acc.Step(nil, near, true, 30); got != 0 {
		t.Fatalf("expected 0 without previous position, got %f", got)
	}
	if got := acc.Step(prev, near, false, 30); got != 0 {
		t.Fatalf("expected 0 when not traveling, got %f", got)
	}
	if got := acc.Step(prev, near, true, 1); got != 0 {
		t.Fatalf("expected 0 at drift speed, got %f", got)
	}
	if got := acc.Step(prev, near, true, 30); got <= 0 || got > MaxStepKm {
		t.Fatalf("expected a small positive increment, got %f", got)
	}
	jump := models.Coord{Lat: -0.44, Lng: 102.96}
	if got := acc.Step(prev, jump, true, 30); got != 0 {
		t.Fatalf("expected jump to be filtered, got %f", got)
	}
}

func TestAccumulationMonotonicAndJumpInvariant(t *testing.T) {
	acc := DefaultAccumulator()
	track := []models.Coord{
		{Lat: -0.4300, Lng: 102.9600},
		{Lat: -0.4303, Lng: 102.9601},
		{Lat: -0.4306, Lng: 102.9602},
		{Lat: -0.4309, Lng: 102.9603},
	}
	run := func(points []models.Coord) float64 {
		var total float64
		var prev *models.Coord
		for i := range points {
			p := points[i]
			inc := acc.Step(prev, p, true, 25)
			if inc < 0 {
				t.Fatalf("negative increment %f", inc)
			}
			before := total
			total += inc
			if total < before {
				t.Fatalf("distance decreased")
			}
			prev = &p
		}
		return total
	}
	base := run(track)

	// a glitch appended after the track contributes nothing
	withGlitch := append(append([]models.Coord{}, track...), models.Coord{Lat: -0.50, Lng: 103.0})
	if got := run(withGlitch); math.Abs(got-base) > 1e-12 {
		t.Fatalf("expected jump to add nothing: %f vs %f", got, base)
	}
}

func TestIndexNearby(t *testing.T) {
	idx := NewIndex()
	idx.Render([]models.UnitSnapshot{
		{Name: "DT-06", Position: models.Coord{Lat: -0.43, Lng: 102.96}},
		{Name: "DT-07", Position: models.Coord{Lat: -0.36, Lng: 102.95}},
		{Name: "DT-12", Position: models.Coord{Lat: 1.5, Lng: 101.0}},
	}, models.FleetStats{})

	got := idx.Nearby(-0.4345, 102.9674, 20, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 units within 20km, got %d", len(got))
	}
	if got[0].Name != "DT-06" {
		t.Fatalf("expected DT-06 closest, got %s", got[0].Name)
	}
	if got := idx.Nearby(-0.4345, 102.9674, 0, 1); len(got) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
}

func TestRedisGeoNearby(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := NewRedisGeo(client, "fleet_geo")
	g.Render([]models.UnitSnapshot{
		{Name: "DT-06", Afdeling: "AFD I", Status: models.StatusMoving, Position: models.Coord{Lat: -0.43, Lng: 102.96}, SpeedKmh: 20},
		{Name: "DT-12", Position: models.Coord{Lat: 1.5, Lng: 101.0}},
	}, models.FleetStats{})

	got := g.Nearby(-0.4345, 102.9674, 5, 10)
	if len(got) != 1 || got[0].Name != "DT-06" {
		t.Fatalf("unexpected nearby result: %+v", got)
	}
	if got[0].Afdeling != "AFD I" || got[0].Status != models.StatusMoving || got[0].SpeedKmh != 20 {
		t.Fatalf("expected metadata to be loaded, got %+v", got[0])
	}
}
