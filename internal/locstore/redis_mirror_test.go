package locstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

func newTestMirror(t *testing.T) *RedisMirror {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisMirrorFromClient(client, "actors_geo")
}

func TestRedisMirrorRecordAndNearby(t *testing.T) {
	m := newTestMirror(t)
	pos := models.Position{
		Coord:      models.Coord{Lat: -4.2634, Lng: 15.2429},
		CapturedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	err := m.Record(models.Actor{
		ID:           "d1",
		Position:     &pos,
		VehicleClass: models.ClassCar,
		Availability: models.Available,
		Rating:       4.5,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	ids, err := m.NearbyIDs(context.Background(), models.Coord{Lat: -4.2650, Lng: 15.2440}, 5, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("expected [d1], got %v", ids)
	}
}

func TestRedisMirrorSkipsActorWithoutPosition(t *testing.T) {
	m := newTestMirror(t)
	if err := m.Record(models.Actor{ID: "ghost"}); err != nil {
		t.Fatalf("record without position must be a no-op, got %v", err)
	}
	ids, err := m.NearbyIDs(context.Background(), models.Coord{Lat: 0, Lng: 0}, 20000, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty, got %v", ids)
	}
}
