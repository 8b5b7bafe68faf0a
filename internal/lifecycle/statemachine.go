package lifecycle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/guetchou/bantudelice-tracking/internal/geo"
	"github.com/guetchou/bantudelice-tracking/internal/models"
	"github.com/guetchou/bantudelice-tracking/internal/observability"
	"github.com/guetchou/bantudelice-tracking/internal/pricing"
)

// Event drives the request lifecycle. Proximity events come from tracking
// sessions; the rest from actor-side clients.
type Event string

const (
	EventDepart            Event = "depart"
	EventArrivePickup      Event = "arrive_pickup"
	EventStart             Event = "start"
	EventArriveDestination Event = "arrive_destination"
	EventComplete          Event = "complete"
	EventCancel            Event = "cancel"
	EventReject            Event = "reject"
)

// NotificationSink receives every lifecycle event for user-facing fan-out.
// Implementations must not block; the machine calls them inline.
type NotificationSink interface {
	Notify(requestID string, kind string, payload any)
}

// Persistence receives snapshots for crash recovery. Authoritative state
// stays in memory; durability is the collaborator's problem.
type Persistence interface {
	SaveRequest(r models.Request) error
	SaveActor(a models.Actor) error
}

// ActorRegistry is the slice of the location store the machine mutates.
type ActorRegistry interface {
	SetAvailability(actorID string, av models.Availability) error
	CompareAndSetAvailability(actorID string, from, to models.Availability) error
	Snapshot(actorID string) (models.Actor, error)
}

// PaymentCollaborator holds funds at assignment, captures at completion and
// releases on cancellation. Optional; failures never veto a transition.
type PaymentCollaborator interface {
	Hold(amountXAF int64, requestID string) (holdID string, err error)
	Capture(holdID string) error
	Release(holdID string) error
}

type Config struct {
	// RejectCooldown keeps a rejecting actor out of re-matching.
	RejectCooldown time.Duration
	// RequireConfirmation demands an explicit complete event after the
	// destination is reached (manual handover flows).
	RequireConfirmation bool
	Speeds              geo.SpeedTable
}

func DefaultConfig() Config {
	return Config{
		RejectCooldown: 10 * time.Minute,
		Speeds:         geo.DefaultSpeeds(),
	}
}

type reqEntry struct {
	mu       sync.Mutex
	req      models.Request
	rejected map[string]time.Time // actorID -> rejection time
	holdID   string
}

// Machine owns every request's lifecycle. Transitions on one request are
// serialized by a per-request lock; distinct requests never contend.
type Machine struct {
	mu       sync.RWMutex
	requests map[string]*reqEntry

	actors  ActorRegistry
	sink    NotificationSink
	persist Persistence
	pay     PaymentCollaborator // may be nil

	// CompletionHook fires exactly once per request, at completed. Wired to
	// the trip-counter increment by the composition root.
	CompletionHook func(actorID string)

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewMachine(actors ActorRegistry, sink NotificationSink, persist Persistence, cfg Config, logger *slog.Logger) *Machine {
	if cfg.RejectCooldown <= 0 {
		cfg.RejectCooldown = DefaultConfig().RejectCooldown
	}
	if cfg.Speeds == nil {
		cfg.Speeds = geo.DefaultSpeeds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		requests: make(map[string]*reqEntry),
		actors:   actors,
		sink:     sink,
		persist:  persist,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetPayments attaches the optional payment collaborator.
func (m *Machine) SetPayments(p PaymentCollaborator) { m.pay = p }

// Create registers a request, computes booking estimates and advances it
// created -> matching immediately.
func (m *Machine) Create(req models.Request) (models.Request, error) {
	if req.ID == "" {
		return models.Request{}, models.InvalidArgument("id", "must not be empty")
	}
	if req.Pickup.Lat == 0 && req.Pickup.Lng == 0 && req.Destination.Lat == 0 && req.Destination.Lng == 0 {
		return models.Request{}, models.InvalidArgument("pickup", "coordinates required")
	}

	dist := geo.DistanceKm(req.Pickup.Coord, req.Destination.Coord)
	req.EstimatedDistanceKm = dist
	req.EstimatedDurationMin = geo.ETAMinutes(dist, req.VehicleClass, m.cfg.Speeds)
	req.PriceEstimateXAF = pricing.Estimate(dist, req.VehicleClass)
	req.Status = models.StatusCreated
	req.CreatedAt = m.now()
	req.LastTransitionAt = req.CreatedAt

	e := &reqEntry{req: req, rejected: make(map[string]time.Time)}

	m.mu.Lock()
	if _, dup := m.requests[req.ID]; dup {
		m.mu.Unlock()
		return models.Request{}, models.InvalidArgument("id", "already exists")
	}
	m.requests[req.ID] = e
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	m.applyLocked(e, models.StatusCreated, "created", nil)
	m.applyLocked(e, models.StatusMatching, "matching", nil)
	return e.req, nil
}

// Get returns a snapshot of the request.
func (m *Machine) Get(requestID string) (models.Request, error) {
	e := m.entry(requestID)
	if e == nil {
		return models.Request{}, models.ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.req, nil
}

// Assign binds a chosen candidate to a matching request and flips the actor
// busy. The candidate comes from the caller: matching and choosing are
// separate steps.
func (m *Machine) Assign(requestID string, cand models.Candidate) (models.Request, error) {
	e := m.entry(requestID)
	if e == nil {
		return models.Request{}, models.ErrUnknownRequest
	}
	if cand.Actor.ID == "" {
		return models.Request{}, models.ErrNoCandidate
	}

	e.mu.Lock()
	if e.req.Status != models.StatusMatching {
		e.mu.Unlock()
		return models.Request{}, &models.InvalidTransitionError{RequestID: requestID, From: e.req.Status, Event: "assign"}
	}
	// claiming the actor is a compare-and-swap: an actor already busy on
	// another request fails this assign instead of being double-booked
	if err := m.actors.CompareAndSetAvailability(cand.Actor.ID, models.Available, models.Busy); err != nil {
		e.mu.Unlock()
		return models.Request{}, err
	}
	e.req.AssignedActorID = cand.Actor.ID
	m.applyLocked(e, models.StatusAssigned, "assigned", map[string]any{
		"actor_id": cand.Actor.ID,
		"eta_min":  cand.ETAToPickupMin,
	})
	out := e.req
	e.mu.Unlock()

	if m.pay != nil {
		// the hold is a network call; it runs outside the entry lock so
		// other transitions on this request are not serialized behind it
		holdID, err := m.pay.Hold(out.PriceEstimateXAF, requestID)
		if err != nil {
			m.logger.Warn("payment hold failed", "request_id", requestID, "error", err)
			return out, nil
		}
		e.mu.Lock()
		if e.req.Status.Terminal() {
			e.mu.Unlock()
			// the request ended while the hold was in flight
			if rerr := m.pay.Release(holdID); rerr != nil {
				m.logger.Warn("payment release failed", "request_id", requestID, "error", rerr)
			}
			return out, nil
		}
		e.holdID = holdID
		e.mu.Unlock()
	}
	return out, nil
}

// Signal applies a lifecycle event. Terminal requests reject every event
// without mutating anything.
func (m *Machine) Signal(requestID string, ev Event) (models.Status, error) {
	e := m.entry(requestID)
	if e == nil {
		return "", models.ErrUnknownRequest
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.req.Status
	invalid := func() (models.Status, error) {
		return from, &models.InvalidTransitionError{RequestID: requestID, From: from, Event: string(ev)}
	}
	if from.Terminal() {
		return invalid()
	}

	switch ev {
	case EventDepart:
		if from != models.StatusAssigned {
			return invalid()
		}
		m.applyLocked(e, models.StatusEnRoute, "actor_en_route", nil)

	case EventArrivePickup:
		// proximity can fire before the actor bothered to send depart
		if from != models.StatusAssigned && from != models.StatusEnRoute {
			return invalid()
		}
		m.applyLocked(e, models.StatusActorArrived, "actor_arrived", nil)

	case EventStart:
		if from != models.StatusActorArrived {
			return invalid()
		}
		m.applyLocked(e, models.StatusInProgress, "in_progress", nil)

	case EventArriveDestination:
		if from != models.StatusInProgress {
			return invalid()
		}
		if m.cfg.RequireConfirmation {
			// stay in_progress until the explicit complete event
			m.notify(e.req.ID, "destination_reached", map[string]any{"actor_id": e.req.AssignedActorID})
			return e.req.Status, nil
		}
		m.completeLocked(e)

	case EventComplete:
		if from != models.StatusInProgress {
			return invalid()
		}
		m.completeLocked(e)

	case EventCancel:
		m.releaseActorLocked(e, models.Available)
		if e.holdID != "" && m.pay != nil {
			if err := m.pay.Release(e.holdID); err != nil {
				m.logger.Warn("payment release failed", "request_id", requestID, "error", err)
			}
		}
		m.applyLocked(e, models.StatusCancelled, "cancelled", nil)

	case EventReject:
		if from != models.StatusAssigned {
			return invalid()
		}
		rejected := e.req.AssignedActorID
		e.rejected[rejected] = m.now()
		m.releaseActorLocked(e, models.Available)
		e.req.AssignedActorID = "" // re-matching starts with no actor bound
		m.notify(e.req.ID, "rejected", map[string]any{"actor_id": rejected})
		m.applyLocked(e, models.StatusMatching, "matching", nil)

	default:
		return from, models.InvalidArgument("event", "unknown event "+string(ev))
	}
	return e.req.Status, nil
}

// ExcludedActors lists actors whose rejection cool-down has not lapsed.
func (m *Machine) ExcludedActors(requestID string) map[string]bool {
	e := m.entry(requestID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.rejected))
	cutoff := m.now().Add(-m.cfg.RejectCooldown)
	for id, at := range e.rejected {
		if at.After(cutoff) {
			out[id] = true
		}
	}
	return out
}

func (m *Machine) completeLocked(e *reqEntry) {
	actorID := e.req.AssignedActorID
	m.releaseActorLocked(e, models.Available)
	if e.holdID != "" && m.pay != nil {
		if err := m.pay.Capture(e.holdID); err != nil {
			m.logger.Warn("payment capture failed", "request_id", e.req.ID, "error", err)
		}
	}
	m.applyLocked(e, models.StatusCompleted, "completed", map[string]any{"actor_id": actorID})
	if m.CompletionHook != nil && actorID != "" {
		m.CompletionHook(actorID)
	}
}

// releaseActorLocked frees the assigned actor. The assignment itself is kept
// on terminal states for the archive; reject clears it at its call site.
func (m *Machine) releaseActorLocked(e *reqEntry, av models.Availability) {
	if e.req.AssignedActorID == "" {
		return
	}
	if err := m.actors.SetAvailability(e.req.AssignedActorID, av); err != nil {
		m.logger.Warn("release actor failed", "actor_id", e.req.AssignedActorID, "error", err)
	}
}

func (m *Machine) applyLocked(e *reqEntry, to models.Status, kind string, payload map[string]any) {
	e.req.Status = to
	e.req.LastTransitionAt = m.now()
	observability.TransitionsTotal.WithLabelValues(string(to)).Inc()
	if m.persist != nil {
		if err := m.persist.SaveRequest(e.req); err != nil {
			m.logger.Warn("persist request failed", "request_id", e.req.ID, "error", err)
		}
	}
	m.notify(e.req.ID, kind, payload)
}

func (m *Machine) notify(requestID, kind string, payload any) {
	if m.sink != nil {
		m.sink.Notify(requestID, kind, payload)
	}
}

func (m *Machine) entry(requestID string) *reqEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[requestID]
}
