package geo

import "github.com/example/fleet-tracking/internal/models"

// Both the logger and the dashboard accumulate distance with these
// constants; changing one side only makes their totals diverge.
const (
	MinSpeedKmh = 1.0
	MaxStepKm   = 0.1
)

// Accumulator turns consecutive accepted positions into distance increments.
type Accumulator struct {
	MinSpeedKmh float64
	MaxStepKm   float64
}

func DefaultAccumulator() Accumulator {
	return Accumulator{MinSpeedKmh: MinSpeedKmh, MaxStepKm: MaxStepKm}
}

// Step returns the distance in km to add for the move prev -> curr.
// It is zero without a previous position, when not traveling, when the
// speed is at or below the drift threshold, and when the step is a jump.
func (a Accumulator) Step(prev *models.Coord, curr models.Coord, traveling bool, speedKmh float64) float64 {
	if prev == nil || !traveling || speedKmh <= a.MinSpeedKmh {
		return 0
	}
	d := Distance(*prev, curr)
	if d > a.MaxStepKm {
		return 0
	}
	return d
}
