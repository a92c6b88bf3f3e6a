package fleet

import "github.com/example/fleet-tracking/internal/models"

// ComputeStats recomputes the fleet figures from scratch.
func ComputeStats(units []models.UnitSnapshot) models.FleetStats {
	var st models.FleetStats
	st.TotalUnits = len(units)
	var speed float64
	for _, u := range units {
		if u.Status == models.StatusActive || u.Status == models.StatusMoving {
			st.ActiveUnits++
		}
		st.TotalDistanceKm += u.DistanceKm
		st.TotalFuelL += u.FuelUsedL
		speed += u.SpeedKmh
	}
	if len(units) > 0 {
		st.AvgSpeedKmh = speed / float64(len(units))
	}
	return st
}
