package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(r models.Request) error {
	_, err := p.db.Exec(`
		INSERT INTO requests(id, status, assigned_actor_id, pickup_lat, pickup_lng, pickup_address,
		                     dest_lat, dest_lng, dest_address, vehicle_class, estimated_distance_km,
		                     estimated_duration_min, price_estimate_xaf, created_at, last_transition_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			assigned_actor_id = EXCLUDED.assigned_actor_id,
			last_transition_at = EXCLUDED.last_transition_at`,
		r.ID, r.Status, nullable(r.AssignedActorID),
		r.Pickup.Lat, r.Pickup.Lng, r.Pickup.Address,
		r.Destination.Lat, r.Destination.Lng, r.Destination.Address,
		r.VehicleClass, r.EstimatedDistanceKm, r.EstimatedDurationMin, r.PriceEstimateXAF,
		r.CreatedAt, r.LastTransitionAt)
	return err
}

func (p *PostgresStore) SaveActor(a models.Actor) error {
	var lat, lng sql.NullFloat64
	var capturedAt sql.NullTime
	if a.Position != nil {
		lat = sql.NullFloat64{Float64: a.Position.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: a.Position.Lng, Valid: true}
		capturedAt = sql.NullTime{Time: a.Position.CapturedAt, Valid: true}
	}
	_, err := p.db.Exec(`
		INSERT INTO actors(id, last_lat, last_lng, last_captured_at, availability, vehicle_class, rating, completed_trips)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			last_lat = EXCLUDED.last_lat,
			last_lng = EXCLUDED.last_lng,
			last_captured_at = EXCLUDED.last_captured_at,
			availability = EXCLUDED.availability,
			vehicle_class = EXCLUDED.vehicle_class,
			rating = EXCLUDED.rating,
			completed_trips = EXCLUDED.completed_trips`,
		a.ID, lat, lng, capturedAt, a.Availability, a.VehicleClass, a.Rating, a.CompletedTrips)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
