package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/example/fleet-tracking/internal/models"
)

const EarthRadiusKm = 6371.0

// Geo is the position index the dashboard serves nearby queries from.
type Geo interface {
	Nearby(lat, lng, radiusKm float64, limit int) []models.UnitSnapshot
	Upsert(u models.UnitSnapshot)
}

type Index struct {
	mu    sync.RWMutex
	units map[string]models.UnitSnapshot
}

func NewIndex() *Index {
	return &Index{units: make(map[string]models.UnitSnapshot)}
}

func (g *Index) Upsert(u models.UnitSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.units[u.Name] = u
}

// Render indexes every unit of a roster snapshot.
func (g *Index) Render(units []models.UnitSnapshot, _ models.FleetStats) {
	for _, u := range units {
		g.Upsert(u)
	}
}

// Nearby returns units within radiusKm of (lat, lng), closest first.
// A non-positive radius means no distance limit.
func (g *Index) Nearby(lat, lng, radiusKm float64, limit int) []models.UnitSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		u    models.UnitSnapshot
		dist float64
	}
	arr := make([]pair, 0, len(g.units))
	for _, u := range g.units {
		dist := Haversine(lat, lng, u.Position.Lat, u.Position.Lng)
		if radiusKm > 0 && dist > radiusKm {
			continue
		}
		arr = append(arr, pair{u, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist == arr[j].dist {
			return arr[i].u.Name < arr[j].u.Name
		}
		return arr[i].dist < arr[j].dist
	})
	n := len(arr)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.UnitSnapshot, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].u)
	}
	return out
}

// Haversine distance in kilometres
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func Distance(a, b models.Coord) float64 { return Haversine(a.Lat, a.Lng, b.Lat, b.Lng) }
