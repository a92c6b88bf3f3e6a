package fleet

import (
	"hash/fnv"
	"math"

	"github.com/example/fleet-tracking/internal/models"
)

const (
	FuelEfficiencyKmPerL = 4.0
	FuelTankCapacityL    = 100.0

	baseFuelPct = 80.0
	minFuelPct  = 10.0

	placeholderSpread = 0.03
)

var afdelings = map[string]string{
	"DT-06": "AFD I", "DT-07": "AFD I", "DT-12": "AFD II", "DT-13": "AFD II",
	"DT-15": "AFD III", "DT-16": "AFD III", "DT-17": "AFD IV", "DT-18": "AFD IV",
	"DT-23": "AFD V", "DT-24": "AFD V", "DT-25": "KKPA", "DT-26": "KKPA",
	"DT-27": "KKPA", "DT-28": "AFD II", "DT-29": "AFD III", "DT-32": "AFD I",
	"DT-33": "AFD IV", "DT-34": "AFD V", "DT-35": "KKPA", "DT-36": "AFD II",
	"DT-37": "AFD III", "DT-38": "AFD I", "DT-39": "AFD IV",
}

var vehicleYears = map[string]string{
	"DT-06": "2018", "DT-07": "2018",
	"DT-12": "2020", "DT-13": "2020", "DT-15": "2020", "DT-16": "2020",
	"DT-17": "2020", "DT-18": "2020", "DT-36": "2020", "DT-37": "2020",
	"DT-38": "2020", "DT-39": "2020",
	"DT-23": "2021", "DT-24": "2021",
	"DT-25": "2022", "DT-26": "2022", "DT-27": "2022", "DT-28": "2022", "DT-29": "2022",
	"DT-32": "2024",
	"DT-33": "2025", "DT-34": "2025", "DT-35": "2025",
}

var unitNumbers = map[string]int{
	"DT-06": 1, "DT-07": 2, "DT-12": 3, "DT-13": 4, "DT-15": 5, "DT-16": 6,
	"DT-17": 7, "DT-18": 8, "DT-23": 9, "DT-24": 10, "DT-25": 11, "DT-26": 12,
	"DT-27": 13, "DT-28": 14, "DT-29": 15, "DT-32": 16, "DT-33": 17, "DT-34": 18,
	"DT-35": 19, "DT-36": 20, "DT-37": 21, "DT-38": 22, "DT-39": 23,
}

var journeyStatuses = map[string]models.UnitStatus{
	"started": models.StatusMoving,
	"moving":  models.StatusMoving,
	"active":  models.StatusActive,
	"paused":  models.StatusActive,
	"ended":   models.StatusInactive,
	"ready":   models.StatusInactive,
}

// Blocks are the estate blocks a unit can be assigned to.
var Blocks = []string{"V73", "T46", "U52", "T38", "U59", "X83", "V68", "T51", "U51", "Q37", "U47", "U44", "V70"}

type Landmark struct {
	Key      string       `json:"key"`
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Position models.Coord `json:"position"`
}

var Landmarks = []Landmark{
	{Key: "PKS_SAGM", Name: "PKS SAGM", Type: "pks", Position: models.Coord{Lat: -0.43452332690449164, Lng: 102.96741072417917}},
	{Key: "KANTOR_KEBUN", Name: "Kantor Kebun PT SAGM", Type: "office", Position: models.Coord{Lat: -0.3575865859028525, Lng: 102.95047687287101}},
}

// PlaceholderCentre is where units without geometry are drawn around.
var PlaceholderCentre = models.Coord{Lat: -0.396, Lng: 102.959}

func Afdeling(unit string) string {
	if a, ok := afdelings[unit]; ok {
		return a
	}
	return "AFD I"
}

func VehicleYear(unit string) string {
	if y, ok := vehicleYears[unit]; ok {
		return y
	}
	return "Unknown"
}

func UnitNumber(unit string) (int, bool) {
	n, ok := unitNumbers[unit]
	return n, ok
}

// StatusFromJourney maps a journey status to the dashboard status; anything
// unrecognised, including an empty status, counts as active.
func StatusFromJourney(journey string) models.UnitStatus {
	if s, ok := journeyStatuses[journey]; ok {
		return s
	}
	return models.StatusActive
}

func FuelUsed(distanceKm float64) float64 {
	return distanceKm / FuelEfficiencyKmPerL
}

// FuelLevel estimates the tank level in percent after driving distanceKm
// from a base of 80%, never reporting below 10%.
func FuelLevel(distanceKm float64) float64 {
	return math.Max(minFuelPct, baseFuelPct-FuelUsed(distanceKm)/FuelTankCapacityL*100)
}

// Placeholder gives a unit without geometry a stable position near the
// estate centre derived from its id.
func Placeholder(unit string) models.Coord {
	v := hash(unit)
	a := float64(v&0xffffffff) / float64(1<<32)
	b := float64(v>>32) / float64(1<<32)
	return models.Coord{
		Lat: PlaceholderCentre.Lat + (a-0.5)*placeholderSpread,
		Lng: PlaceholderCentre.Lng + (b-0.5)*placeholderSpread,
	}
}

func Block(unit string) string {
	return Blocks[hash(unit)%uint64(len(Blocks))]
}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
