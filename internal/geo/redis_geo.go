package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client redis.UniversalClient
	key    string
	ctx    context.Context
}

func NewRedisGeo(client redis.UniversalClient, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(u models.UnitSnapshot) {
	// GEOADD for the position, HSET for what the nearby listing shows
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: u.Position.Lng, Latitude: u.Position.Lat, Name: u.Name}).Result()
	_ = r.client.HSet(r.ctx, metaKey(u.Name), map[string]interface{}{
		"afdeling": u.Afdeling,
		"status":   string(u.Status),
		"driver":   u.Driver,
		"speed":    fmt.Sprintf("%f", u.SpeedKmh),
		"distance": fmt.Sprintf("%f", u.DistanceKm),
		"updated":  time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Render(units []models.UnitSnapshot, _ models.FleetStats) {
	for _, u := range units {
		r.Upsert(u)
	}
}

func (r *RedisGeo) Nearby(lat, lng, radiusKm float64, limit int) []models.UnitSnapshot {
	if radiusKm <= 0 {
		radiusKm = 50
	}
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.UnitSnapshot, 0, len(res))
	for _, g := range res {
		u := models.UnitSnapshot{Name: g.Name, Position: models.Coord{Lat: g.Latitude, Lng: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			u.Afdeling = m["afdeling"]
			u.Status = models.UnitStatus(m["status"])
			u.Driver = m["driver"]
			if f, err := strconv.ParseFloat(m["speed"], 64); err == nil {
				u.SpeedKmh = f
			}
			if f, err := strconv.ParseFloat(m["distance"], 64); err == nil {
				u.DistanceKm = f
			}
		}
		out = append(out, u)
	}
	return out
}

func metaKey(name string) string { return "unit:meta:" + name }
