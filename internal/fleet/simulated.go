package fleet

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/example/fleet-tracking/internal/models"
)

type simulatedUnit struct {
	ID        int     `mapstructure:"id"`
	Name      string  `mapstructure:"name"`
	Afdeling  string  `mapstructure:"afdeling"`
	Year      string  `mapstructure:"year"`
	Status    string  `mapstructure:"status"`
	Lat       float64 `mapstructure:"lat"`
	Lng       float64 `mapstructure:"lng"`
	Speed     float64 `mapstructure:"speed"`
	FuelLevel float64 `mapstructure:"fuel_level"`
	Block     string  `mapstructure:"block"`
	Driver    string  `mapstructure:"driver"`
}

// DefaultSimulated is the roster shown before any live data arrives.
func DefaultSimulated() []models.UnitSnapshot {
	return []models.UnitSnapshot{
		{ID: 1, Name: "CANTER PS125-001", Afdeling: "AFD I", Year: "Unknown", Status: models.StatusActive,
			Position: models.Coord{Lat: -0.371, Lng: 102.948}, SpeedKmh: 45, FuelLevelPct: 85, Block: "V73", Driver: "Driver Simulasi", Simulated: true},
		{ID: 2, Name: "CANTER PS125-002", Afdeling: "AFD II", Year: "Unknown", Status: models.StatusMoving,
			Position: models.Coord{Lat: -0.368, Lng: 102.955}, SpeedKmh: 60, FuelLevelPct: 45, Block: "T46", Driver: "Driver Simulasi", Simulated: true},
	}
}

// LoadSimulated reads a units fixture (any format viper understands). An
// empty path returns DefaultSimulated.
func LoadSimulated(path string) ([]models.UnitSnapshot, error) {
	if path == "" {
		return DefaultSimulated(), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read simulated fleet %s: %w", path, err)
	}
	var raw []simulatedUnit
	if err := v.UnmarshalKey("units", &raw); err != nil {
		return nil, fmt.Errorf("decode simulated fleet %s: %w", path, err)
	}
	out := make([]models.UnitSnapshot, 0, len(raw))
	for i, r := range raw {
		if r.Name == "" {
			return nil, fmt.Errorf("simulated unit %d has no name", i)
		}
		u := models.UnitSnapshot{
			ID:           r.ID,
			Name:         r.Name,
			Afdeling:     r.Afdeling,
			Year:         r.Year,
			Status:       simulatedStatus(r.Status),
			Position:     models.Coord{Lat: r.Lat, Lng: r.Lng},
			SpeedKmh:     r.Speed,
			FuelLevelPct: r.FuelLevel,
			Block:        r.Block,
			Driver:       r.Driver,
			Simulated:    true,
		}
		if u.ID == 0 {
			u.ID = i + 1
		}
		if u.Afdeling == "" {
			u.Afdeling = Afdeling(u.Name)
		}
		if u.Year == "" {
			u.Year = VehicleYear(u.Name)
		}
		if u.Block == "" {
			u.Block = Block(u.Name)
		}
		if u.Driver == "" {
			u.Driver = "Driver Simulasi"
		}
		out = append(out, u)
	}
	return out, nil
}

func simulatedStatus(s string) models.UnitStatus {
	switch st := models.UnitStatus(s); st {
	case models.StatusMoving, models.StatusActive, models.StatusInactive:
		return st
	}
	return StatusFromJourney(s)
}
