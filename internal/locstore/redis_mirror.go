package locstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

// RedisMirror keeps a Redis GEO index plus a metadata hash in sync with the
// in-memory store, so fleet dashboards and the ops tooling can run radius
// queries without touching the engine.
type RedisMirror struct {
	client *redis.Client
	geoKey string
}

func NewRedisMirror(addr, password, geoKey string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, geoKey: geoKey}
}

// NewRedisMirrorFromClient is used by tests wired to miniredis.
func NewRedisMirrorFromClient(c *redis.Client, geoKey string) *RedisMirror {
	return &RedisMirror{client: c, geoKey: geoKey}
}

func (m *RedisMirror) Record(a models.Actor) error {
	if a.Position == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.client.GeoAdd(ctx, m.geoKey, &redis.GeoLocation{
		Name:      a.ID,
		Longitude: a.Position.Lng,
		Latitude:  a.Position.Lat,
	}).Err(); err != nil {
		return err
	}
	return m.client.HSet(ctx, metaKey(a.ID), map[string]interface{}{
		"vehicle_class": string(a.VehicleClass),
		"availability":  string(a.Availability),
		"rating":        strconv.FormatFloat(a.Rating, 'f', 2, 64),
		"captured_at":   a.Position.CapturedAt.Format(time.RFC3339),
	}).Err()
}

// NearbyIDs runs a radius query against the GEO index, nearest first.
func (m *RedisMirror) NearbyIDs(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]string, error) {
	res, err := m.client.GeoRadius(ctx, m.geoKey, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Count:  limit,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res))
	for _, g := range res {
		ids = append(ids, g.Name)
	}
	return ids, nil
}

func (m *RedisMirror) Close() error { return m.client.Close() }

func metaKey(id string) string { return "actor:meta:" + id }
