package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a coordinate plus the human-readable address the requester typed.
type Place struct {
	Coord
	Address string `json:"address,omitempty"`
}

// Position is one GPS fix reported by an actor's device.
type Position struct {
	Coord
	AccuracyM  float64   `json:"accuracy,omitempty"`
	SpeedKph   float64   `json:"speed_kph,omitempty"`
	HeadingDeg float64   `json:"heading,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

type VehicleClass string

const (
	ClassStandard VehicleClass = "standard"
	ClassComfort  VehicleClass = "comfort"
	ClassPremium  VehicleClass = "premium"
	ClassVan      VehicleClass = "van"
	ClassBike     VehicleClass = "bike"
	ClassCar      VehicleClass = "car"
)

type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	Offline   Availability = "offline"
)

// Actor is a driver or courier. One shape covers both taxi and delivery;
// VehicleClass carries the distinction.
type Actor struct {
	ID             string       `json:"id"`
	Position       *Position    `json:"position,omitempty"` // nil until first fix
	VehicleClass   VehicleClass `json:"vehicle_class"`
	Availability   Availability `json:"availability"`
	Rating         float64      `json:"rating"` // 0..5
	CompletedTrips int          `json:"completed_trips"`
}

type Status string

const (
	StatusCreated      Status = "created"
	StatusMatching     Status = "matching"
	StatusAssigned     Status = "assigned"
	StatusEnRoute      Status = "actor_en_route"
	StatusActorArrived Status = "actor_arrived"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Request is a ride or delivery booking tracked through its lifecycle.
type Request struct {
	ID                   string       `json:"id"`
	Pickup               Place        `json:"pickup"`
	Destination          Place        `json:"destination"`
	VehicleClass         VehicleClass `json:"vehicle_class"`
	Status               Status       `json:"status"`
	AssignedActorID      string       `json:"assigned_actor_id,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	LastTransitionAt     time.Time    `json:"last_transition_at"`
	EstimatedDistanceKm  float64      `json:"estimated_distance_km"`
	EstimatedDurationMin int          `json:"estimated_duration_min"`
	PriceEstimateXAF     int64        `json:"price_estimate_xaf"`
}

// Candidate is a scored match proposal. Computed fresh on every match call,
// never persisted.
type Candidate struct {
	Actor              Actor   `json:"actor"`
	DistanceToPickupKm float64 `json:"distance_to_pickup_km"`
	ETAToPickupMin     int     `json:"eta_to_pickup_min"`
	Score              float64 `json:"score"`
}

// TrackingFrame is a point-in-time progress snapshot for an active request.
// Only the latest frame per request is retained.
type TrackingFrame struct {
	RequestID       string    `json:"request_id"`
	ActorPosition   Position  `json:"actor_position"`
	RemainingKm     float64   `json:"remaining_distance_km"`
	RemainingEtaMin int       `json:"remaining_eta_min"`
	Stale           bool      `json:"stale,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
