package locstore

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/guetchou/bantudelice-tracking/internal/geo"
	"github.com/guetchou/bantudelice-tracking/internal/models"
	"github.com/guetchou/bantudelice-tracking/internal/observability"
)

// Mirror receives accepted position updates for secondary indexing
// (Redis GEO in production). Failures are logged, never surfaced.
type Mirror interface {
	Record(actor models.Actor) error
}

// subQueueLen bounds the per-subscriber queue. A slow consumer loses the
// oldest fix, not the publisher's time.
const subQueueLen = 16

type subscription struct {
	ch   chan models.Position
	stop chan struct{}
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.stop) })
}

// entry holds one actor's state plus its subscribers. Each entry has its own
// lock so independent actors never contend.
type entry struct {
	mu    sync.Mutex
	actor models.Actor
	subs  map[uint64]*subscription
}

type regionSub struct {
	sub subscription
	// region feed carries the full actor so consumers can filter on class
	feed chan models.Actor
}

// Store is the single source of truth for "where is actor X right now".
// Reads take copy-on-read snapshots; the outer lock only guards the map
// structure, never per-actor mutation.
type Store struct {
	mu     sync.RWMutex
	actors map[string]*entry

	regionMu   sync.Mutex
	regionSubs map[uint64]*regionSub

	nextSubID atomic.Uint64

	logger *slog.Logger
	mirror Mirror
}

func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		actors:     make(map[string]*entry),
		regionSubs: make(map[uint64]*regionSub),
		logger:     logger,
	}
}

// SetMirror attaches a secondary index. Call before serving traffic.
func (s *Store) SetMirror(m Mirror) { s.mirror = m }

func validCoord(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// UpdatePosition applies one GPS fix. A fix not newer than the stored one is
// dropped (logged, counted, not an error) so out-of-order delivery can never
// rewind an actor. An unknown actor is registered on first sight.
// Returns whether the fix was accepted.
func (s *Store) UpdatePosition(actorID string, pos models.Position) (bool, error) {
	if actorID == "" {
		return false, models.InvalidArgument("actor_id", "must not be empty")
	}
	if !validCoord(pos.Coord) {
		return false, models.InvalidArgument("position", "coordinates out of range")
	}
	if pos.CapturedAt.IsZero() {
		return false, models.InvalidArgument("captured_at", "must be set")
	}

	e := s.entryFor(actorID, true)

	e.mu.Lock()
	if cur := e.actor.Position; cur != nil && !pos.CapturedAt.After(cur.CapturedAt) {
		e.mu.Unlock()
		observability.StaleDropsTotal.Inc()
		s.logger.Debug("stale position ignored",
			"actor_id", actorID,
			"captured_at", pos.CapturedAt,
			"stored_at", cur.CapturedAt)
		return false, nil
	}
	p := pos
	e.actor.Position = &p
	snap := snapshotLocked(&e.actor)
	for _, sub := range e.subs {
		offer(sub, pos)
	}
	e.mu.Unlock()

	observability.LocationUpdatesTotal.Inc()
	s.publishRegion(snap)

	if s.mirror != nil {
		if err := s.mirror.Record(snap); err != nil {
			s.logger.Warn("mirror update failed", "actor_id", actorID, "error", err)
		}
	}
	return true, nil
}

// offer enqueues without ever blocking the publisher: on a full queue the
// oldest fix is discarded in favour of the newest.
func offer(sub *subscription, pos models.Position) {
	select {
	case sub.ch <- pos:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- pos:
	default:
	}
}

// UpsertProfile sets the matching-relevant fields of an actor, registering it
// if needed. The position, if any, is untouched.
func (s *Store) UpsertProfile(actorID string, class models.VehicleClass, rating float64, completedTrips int) error {
	if actorID == "" {
		return models.InvalidArgument("actor_id", "must not be empty")
	}
	if rating < 0 || rating > 5 {
		return models.InvalidArgument("rating", "must be within [0,5]")
	}
	e := s.entryFor(actorID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if class != "" {
		e.actor.VehicleClass = class
	}
	e.actor.Rating = rating
	e.actor.CompletedTrips = completedTrips
	return nil
}

// SetAvailability flips an actor's availability. Going offline keeps the last
// position for audit; the actor just stops appearing in QueryAvailable.
func (s *Store) SetAvailability(actorID string, av models.Availability) error {
	switch av {
	case models.Available, models.Busy, models.Offline:
	default:
		return models.InvalidArgument("availability", "unknown value")
	}
	e := s.entryFor(actorID, false)
	if e == nil {
		return models.ErrUnknownActor
	}
	e.mu.Lock()
	e.actor.Availability = av
	e.mu.Unlock()
	return nil
}

// CompareAndSetAvailability flips availability only when the current value
// matches from, under the actor's entry lock. This is the claim operation
// for assignment: two requests racing for one actor cannot both win.
func (s *Store) CompareAndSetAvailability(actorID string, from, to models.Availability) error {
	e := s.entryFor(actorID, false)
	if e == nil {
		return models.ErrUnknownActor
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.actor.Availability != from {
		return models.ErrActorUnavailable
	}
	e.actor.Availability = to
	return nil
}

// IncrementTrips bumps the completed-trip counter, typically from the
// lifecycle completion hook.
func (s *Store) IncrementTrips(actorID string) error {
	e := s.entryFor(actorID, false)
	if e == nil {
		return models.ErrUnknownActor
	}
	e.mu.Lock()
	e.actor.CompletedTrips++
	e.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the actor's current record.
func (s *Store) Snapshot(actorID string) (models.Actor, error) {
	e := s.entryFor(actorID, false)
	if e == nil {
		return models.Actor{}, models.ErrUnknownActor
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(&e.actor), nil
}

// QueryAvailable returns every available actor within radiusKm of center,
// optionally filtered by vehicle class. Actors that never reported a position
// cannot be ranked and are skipped. Never returns nil.
func (s *Store) QueryAvailable(center models.Coord, radiusKm float64, class models.VehicleClass) ([]models.Actor, error) {
	if radiusKm <= 0 {
		return nil, models.InvalidArgument("radius_km", "must be positive")
	}
	if !validCoord(center) {
		return nil, models.InvalidArgument("center", "coordinates out of range")
	}

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.actors))
	for _, e := range s.actors {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.Actor, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		a := snapshotLocked(&e.actor)
		e.mu.Unlock()
		if a.Availability != models.Available || a.Position == nil {
			continue
		}
		if class != "" && a.VehicleClass != class {
			continue
		}
		if geo.DistanceKm(a.Position.Coord, center) > radiusKm {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Subscribe registers a callback for every accepted fix of one actor. The
// callback runs on a dedicated goroutine fed by a bounded queue, so it can
// never block the publish path. The returned function unsubscribes; after it
// returns no further callback fires.
func (s *Store) Subscribe(actorID string, fn func(models.Position)) (func(), error) {
	e := s.entryFor(actorID, false)
	if e == nil {
		return nil, models.ErrUnknownActor
	}

	sub := &subscription{
		ch:   make(chan models.Position, subQueueLen),
		stop: make(chan struct{}),
	}

	id := s.nextSubID.Add(1)
	e.mu.Lock()
	e.subs[id] = sub
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.stop:
				return
			case pos := <-sub.ch:
				// stop wins over queued frames
				select {
				case <-sub.stop:
					return
				default:
				}
				fn(pos)
			}
		}
	}()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
		sub.close()
	}, nil
}

// SubscribeRegion delivers every accepted fix fleet-wide, used by dashboards
// watching all available actors. Same non-blocking discipline as Subscribe.
func (s *Store) SubscribeRegion(fn func(models.Actor)) func() {
	rs := &regionSub{
		sub:  subscription{stop: make(chan struct{})},
		feed: make(chan models.Actor, subQueueLen),
	}

	id := s.nextSubID.Add(1)
	s.regionMu.Lock()
	s.regionSubs[id] = rs
	s.regionMu.Unlock()

	go func() {
		for {
			select {
			case <-rs.sub.stop:
				return
			case a := <-rs.feed:
				select {
				case <-rs.sub.stop:
					return
				default:
				}
				fn(a)
			}
		}
	}()

	return func() {
		s.regionMu.Lock()
		delete(s.regionSubs, id)
		s.regionMu.Unlock()
		rs.sub.close()
	}
}

// Deregister removes an actor entirely, closing its subscriptions.
func (s *Store) Deregister(actorID string) {
	s.mu.Lock()
	e, ok := s.actors[actorID]
	if ok {
		delete(s.actors, actorID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	for id, sub := range e.subs {
		delete(e.subs, id)
		sub.close()
	}
	e.mu.Unlock()
}

func (s *Store) publishRegion(a models.Actor) {
	s.regionMu.Lock()
	subs := make([]*regionSub, 0, len(s.regionSubs))
	for _, rs := range s.regionSubs {
		subs = append(subs, rs)
	}
	s.regionMu.Unlock()
	for _, rs := range subs {
		select {
		case rs.feed <- a:
			continue
		default:
		}
		select {
		case <-rs.feed:
		default:
		}
		select {
		case rs.feed <- a:
		default:
		}
	}
}

// entryFor fetches the entry, optionally creating it (first-seen
// registration: new actors come up available, standard class).
func (s *Store) entryFor(actorID string, create bool) *entry {
	s.mu.RLock()
	e := s.actors[actorID]
	s.mu.RUnlock()
	if e != nil || !create {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.actors[actorID]; e != nil {
		return e
	}
	e = &entry{
		actor: models.Actor{
			ID:           actorID,
			VehicleClass: models.ClassStandard,
			Availability: models.Available,
		},
		subs: make(map[uint64]*subscription),
	}
	s.actors[actorID] = e
	return e
}

func snapshotLocked(a *models.Actor) models.Actor {
	out := *a
	if a.Position != nil {
		p := *a.Position
		out.Position = &p
	}
	return out
}
