package matcher

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/guetchou/bantudelice-tracking/internal/geo"
	"github.com/guetchou/bantudelice-tracking/internal/models"
	"github.com/guetchou/bantudelice-tracking/internal/observability"
)

// AvailabilityIndex is the slice of the location store the engine needs.
type AvailabilityIndex interface {
	QueryAvailable(center models.Coord, radiusKm float64, class models.VehicleClass) ([]models.Actor, error)
}

// Weights tune the composite score. Distance dominates; rating and
// experience act as tie-breakers. Lower score wins.
type Weights struct {
	Distance   float64
	Rating     float64
	Experience float64
}

func DefaultWeights() Weights {
	return Weights{Distance: 5, Rating: 3, Experience: 2}
}

const (
	DefaultRadiusKm = 5.0
	DefaultLimit    = 5
	// newActorPenalty keeps zero-trip actors neither excluded nor favoured.
	newActorPenalty = 2.0
)

// Query is one candidate search. Exclude lists actor IDs under a rejection
// cool-down that must not be offered again.
type Query struct {
	Pickup       models.Coord
	VehicleClass models.VehicleClass
	MaxRadiusKm  float64
	Limit        int
	Exclude      map[string]bool
}

type Engine struct {
	Index   AvailabilityIndex
	Speeds  geo.SpeedTable
	Weights Weights
}

func New(index AvailabilityIndex) *Engine {
	return &Engine{Index: index, Speeds: geo.DefaultSpeeds(), Weights: DefaultWeights()}
}

// FindCandidates ranks available actors for a pickup point. An empty result
// is not an error: widening the radius or giving up is the caller's policy.
// The ordering is deterministic for a fixed fleet state.
func (e *Engine) FindCandidates(ctx context.Context, q Query) ([]models.Candidate, error) {
	if q.MaxRadiusKm <= 0 || math.IsNaN(q.MaxRadiusKm) {
		return nil, models.InvalidArgument("max_radius_km", "must be positive")
	}
	if q.Limit <= 0 {
		return nil, models.InvalidArgument("limit", "must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, models.ErrTimeout
	}
	start := time.Now()

	actors, err := e.Index.QueryAvailable(q.Pickup, q.MaxRadiusKm, q.VehicleClass)
	if err != nil {
		return nil, err
	}

	cands := make([]models.Candidate, 0, len(actors))
	for _, a := range actors {
		if a.Position == nil || q.Exclude[a.ID] {
			continue
		}
		dist := geo.DistanceKm(a.Position.Coord, q.Pickup)
		cands = append(cands, models.Candidate{
			Actor:              a,
			DistanceToPickupKm: dist,
			ETAToPickupMin:     geo.ETAMinutes(dist, a.VehicleClass, e.Speeds),
			Score:              e.score(dist, a),
		})
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.DistanceToPickupKm != b.DistanceToPickupKm {
			return a.DistanceToPickupKm < b.DistanceToPickupKm
		}
		if a.Actor.Rating != b.Actor.Rating {
			return a.Actor.Rating > b.Actor.Rating
		}
		return a.Actor.ID < b.Actor.ID
	})

	if len(cands) > q.Limit {
		cands = cands[:q.Limit]
	}
	if err := ctx.Err(); err != nil {
		return nil, models.ErrTimeout
	}
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	if len(cands) > 0 {
		observability.MatchesTotal.Inc()
	}
	return cands, nil
}

// score = wD*distance + wR*(5-rating) + wE*experiencePenalty, lower is better.
func (e *Engine) score(distanceKm float64, a models.Actor) float64 {
	w := e.Weights
	penalty := newActorPenalty
	if a.CompletedTrips > 0 {
		trips := a.CompletedTrips
		if trips > 100 {
			trips = 100
		}
		penalty = 100 / float64(trips)
	}
	return w.Distance*distanceKm + w.Rating*(5-a.Rating) + w.Experience*penalty
}
