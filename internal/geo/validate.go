package geo

import (
	"errors"
	"fmt"

	"github.com/example/fleet-tracking/internal/models"
)

const (
	MaxAccuracyM = 1000.0
	MaxSpeedKmh  = 200.0
)

var ErrInvalidSample = errors.New("invalid sample")

// Validate reports whether a sensor reading is physically plausible.
// It never panics; an implausible reading yields an error wrapping ErrInvalidSample.
func Validate(f models.RawFix) error {
	switch {
	case f.Lat < -90 || f.Lat > 90:
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidSample, f.Lat)
	case f.Lng < -180 || f.Lng > 180:
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidSample, f.Lng)
	case f.AccuracyM > MaxAccuracyM:
		return fmt.Errorf("%w: accuracy %.1fm above %.0fm", ErrInvalidSample, f.AccuracyM, MaxAccuracyM)
	case f.SpeedMps != nil && f.SpeedKmh() > MaxSpeedKmh:
		return fmt.Errorf("%w: speed %.1fkm/h above %.0fkm/h", ErrInvalidSample, f.SpeedKmh(), MaxSpeedKmh)
	}
	return nil
}

// Sample converts a validated reading into a GeoSample tagged with the journey status.
func Sample(f models.RawFix, status models.JourneyStatus) models.GeoSample {
	return models.GeoSample{
		Lat:           f.Lat,
		Lng:           f.Lng,
		SpeedKmh:      f.SpeedKmh(),
		AccuracyM:     f.AccuracyM,
		Heading:       f.Heading,
		Altitude:      f.Altitude,
		Timestamp:     f.Timestamp,
		JourneyStatus: status,
	}
}
