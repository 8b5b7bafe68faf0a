package tracking

import (
	"log/slog"
	"sync"
	"time"

	"github.com/guetchou/bantudelice-tracking/internal/geo"
	"github.com/guetchou/bantudelice-tracking/internal/lifecycle"
	"github.com/guetchou/bantudelice-tracking/internal/models"
	"github.com/guetchou/bantudelice-tracking/internal/observability"
)

// Lifecycle is the slice of the state machine a session drives.
type Lifecycle interface {
	Get(requestID string) (models.Request, error)
	Signal(requestID string, ev lifecycle.Event) (models.Status, error)
}

// Subscriber is the slice of the location store a session consumes.
type Subscriber interface {
	Subscribe(actorID string, fn func(models.Position)) (func(), error)
}

type Config struct {
	// ArrivalThresholdKm is the proximity at which arrival events fire.
	ArrivalThresholdKm float64
	// StaleAfter flags the last frame stale when no fix arrives in time.
	// The request is left untouched; cancelling is the caller's call.
	StaleAfter time.Duration
	Speeds     geo.SpeedTable
}

func DefaultConfig() Config {
	return Config{
		ArrivalThresholdKm: 0.05,
		StaleAfter:         2 * time.Minute,
		Speeds:             geo.DefaultSpeeds(),
	}
}

// Manager runs one live tracking session per active request.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	store   Subscriber
	machine Lifecycle
	sink    lifecycle.NotificationSink
	cfg     Config
	logger  *slog.Logger
}

func NewManager(store Subscriber, machine Lifecycle, sink lifecycle.NotificationSink, cfg Config, logger *slog.Logger) *Manager {
	if cfg.ArrivalThresholdKm <= 0 {
		cfg.ArrivalThresholdKm = DefaultConfig().ArrivalThresholdKm
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	if cfg.Speeds == nil {
		cfg.Speeds = geo.DefaultSpeeds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*session),
		store:    store,
		machine:  machine,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start binds a session to the request's assigned actor. Subscription setup
// failures propagate here; later per-frame errors only degrade the session.
func (m *Manager) Start(requestID, actorID string) error {
	req, err := m.machine.Get(requestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return &models.InvalidTransitionError{RequestID: requestID, From: req.Status, Event: "track"}
	}

	s := &session{
		requestID: requestID,
		actorID:   actorID,
		mgr:       m,
		updates:   make(chan models.Position, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	unsub, err := m.store.Subscribe(actorID, s.enqueue)
	if err != nil {
		return err
	}
	s.unsub = unsub

	m.mu.Lock()
	prev := m.sessions[requestID]
	if prev != nil && prev.actorID == actorID {
		m.mu.Unlock()
		unsub()
		return nil // already tracking this actor; Start is idempotent
	}
	m.sessions[requestID] = s
	m.mu.Unlock()

	if prev != nil {
		// re-assignment: the old actor's session must not keep driving
		// this request
		prev.close()
	} else {
		observability.ActiveSessions.Inc()
	}
	go s.run()
	return nil
}

// Stop tears the session down: unsubscribe first so no callback fires after
// return, then stop the worker. Safe to call twice.
func (m *Manager) Stop(requestID string) {
	m.mu.Lock()
	s := m.sessions[requestID]
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.stopSession(s)
}

// stopSession removes s only if it is still the registered session for its
// request, so a retiring old session cannot take down its replacement.
func (m *Manager) stopSession(s *session) {
	m.mu.Lock()
	current := m.sessions[s.requestID] == s
	if current {
		delete(m.sessions, s.requestID)
	}
	m.mu.Unlock()
	s.close()
	if current {
		observability.ActiveSessions.Dec()
	}
}

// Frame returns the latest frame for a request, if a session has produced one.
func (m *Manager) Frame(requestID string) (models.TrackingFrame, bool) {
	m.mu.Lock()
	s := m.sessions[requestID]
	m.mu.Unlock()
	if s == nil {
		return models.TrackingFrame{}, false
	}
	return s.latest()
}

// Degraded reports whether per-frame processing has hit unexpected errors.
func (m *Manager) Degraded(requestID string) bool {
	m.mu.Lock()
	s := m.sessions[requestID]
	m.mu.Unlock()
	return s != nil && s.isDegraded()
}

type session struct {
	requestID string
	actorID   string
	mgr       *Manager

	updates chan models.Position
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	unsub   func()

	mu       sync.Mutex
	frame    models.TrackingFrame
	hasFrame bool
	degraded bool
}

// enqueue runs on the store's subscription worker; it must stay cheap. The
// newest fix wins when the session worker lags.
func (s *session) enqueue(pos models.Position) {
	select {
	case s.updates <- pos:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- pos:
	default:
	}
}

func (s *session) run() {
	defer close(s.done)
	staleTimer := time.NewTimer(s.mgr.cfg.StaleAfter)
	defer staleTimer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case pos := <-s.updates:
			if !staleTimer.Stop() {
				select {
				case <-staleTimer.C:
				default:
				}
			}
			staleTimer.Reset(s.mgr.cfg.StaleAfter)
			s.process(pos)
		case <-staleTimer.C:
			s.markStale()
			// no reset: the timer rearms on the next fix
		}
	}
}

func (s *session) process(pos models.Position) {
	req, err := s.mgr.machine.Get(s.requestID)
	if err != nil {
		s.fail("request lookup failed", err)
		return
	}
	if req.Status.Terminal() {
		// cancelled or completed out-of-band; nothing left to track
		s.retire()
		return
	}

	var target models.Coord
	switch req.Status {
	case models.StatusAssigned, models.StatusEnRoute, models.StatusActorArrived:
		target = req.Pickup.Coord
	case models.StatusInProgress:
		target = req.Destination.Coord
	default:
		// matching/created: nothing to measure against yet
		return
	}

	remaining := geo.DistanceKm(pos.Coord, target)
	frame := models.TrackingFrame{
		RequestID:       s.requestID,
		ActorPosition:   pos,
		RemainingKm:     remaining,
		RemainingEtaMin: geo.ETAMinutes(remaining, req.VehicleClass, s.mgr.cfg.Speeds),
		Timestamp:       time.Now(),
	}
	s.setFrame(frame)
	observability.FramesEmitted.Inc()
	if s.mgr.sink != nil {
		s.mgr.sink.Notify(s.requestID, "tracking_frame", frame)
	}

	if remaining >= s.mgr.cfg.ArrivalThresholdKm {
		return
	}
	switch req.Status {
	case models.StatusAssigned, models.StatusEnRoute:
		s.signal(lifecycle.EventArrivePickup)
	case models.StatusInProgress:
		s.signal(lifecycle.EventArriveDestination)
	}
}

func (s *session) signal(ev lifecycle.Event) {
	st, err := s.mgr.machine.Signal(s.requestID, ev)
	if err != nil {
		// a concurrent transition can make this benignly invalid
		if models.IsInvalidTransition(err) {
			s.mgr.logger.Debug("arrival signal raced", "request_id", s.requestID, "event", ev)
			return
		}
		s.fail("arrival signal failed", err)
		return
	}
	if st.Terminal() {
		s.retire()
	}
}

// retire tears the session down from its own worker goroutine. Stop waits
// for the worker to exit, so the call has to leave the worker first.
func (s *session) retire() {
	go s.mgr.stopSession(s)
}

// markStale re-emits the last frame flagged stale after a silence window.
func (s *session) markStale() {
	s.mu.Lock()
	if !s.hasFrame || s.frame.Stale {
		s.mu.Unlock()
		return
	}
	s.frame.Stale = true
	frame := s.frame
	s.mu.Unlock()
	s.mgr.logger.Warn("tracking signal lost", "request_id", s.requestID, "actor_id", s.actorID)
	if s.mgr.sink != nil {
		s.mgr.sink.Notify(s.requestID, "tracking_stale", frame)
	}
}

func (s *session) fail(msg string, err error) {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
	s.mgr.logger.Warn(msg, "request_id", s.requestID, "error", err)
}

func (s *session) setFrame(f models.TrackingFrame) {
	s.mu.Lock()
	s.frame = f
	s.hasFrame = true
	s.mu.Unlock()
}

func (s *session) latest() (models.TrackingFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.hasFrame
}

func (s *session) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *session) close() {
	s.once.Do(func() {
		s.unsub()
		close(s.stop)
		<-s.done
	})
}
