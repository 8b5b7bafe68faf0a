package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/guetchou/bantudelice-tracking/internal/geo"
	"github.com/guetchou/bantudelice-tracking/internal/lifecycle"
	"github.com/guetchou/bantudelice-tracking/internal/matcher"
	"github.com/guetchou/bantudelice-tracking/internal/models"
)

func (s *Server) handleActorLocation(w http.ResponseWriter, r *http.Request) {
	actorID := mux.Vars(r)["id"]
	var pos models.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeError(w, models.InvalidArgument("body", err.Error()))
		return
	}
	accepted, err := s.Store.UpdatePosition(actorID, pos)
	if err != nil {
		writeError(w, err)
		return
	}
	if !accepted {
		// stale fix dropped: acknowledged but not applied
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": false})
		return
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishPosition(actorID, pos); err != nil {
			s.logger.Warn("kafka publish failed", "actor_id", actorID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (s *Server) handleActorAvailability(w http.ResponseWriter, r *http.Request) {
	actorID := mux.Vars(r)["id"]
	var body struct {
		Availability models.Availability `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.InvalidArgument("body", err.Error()))
		return
	}
	if err := s.Store.SetAvailability(actorID, body.Availability); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"availability": body.Availability})
}

func (s *Server) handleActorProfile(w http.ResponseWriter, r *http.Request) {
	actorID := mux.Vars(r)["id"]
	var body struct {
		VehicleClass   models.VehicleClass `json:"vehicle_class"`
		Rating         float64             `json:"rating"`
		CompletedTrips int                 `json:"completed_trips"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.InvalidArgument("body", err.Error()))
		return
	}
	if err := s.Store.UpsertProfile(actorID, body.VehicleClass, body.Rating, body.CompletedTrips); err != nil {
		writeError(w, err)
		return
	}
	actor, err := s.Store.Snapshot(actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (s *Server) handleActorGet(w http.ResponseWriter, r *http.Request) {
	actor, err := s.Store.Snapshot(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pickup       models.Place        `json:"pickup"`
		Destination  models.Place        `json:"destination"`
		VehicleClass models.VehicleClass `json:"vehicle_class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.InvalidArgument("body", err.Error()))
		return
	}
	req, err := s.Machine.Create(models.Request{
		ID:           uuid.NewString(),
		Pickup:       body.Pickup,
		Destination:  body.Destination,
		VehicleClass: body.VehicleClass,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Machine.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]
	var body struct {
		MaxRadiusKm float64 `json:"max_radius_km"`
		Limit       int     `json:"limit"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, models.InvalidArgument("body", err.Error()))
			return
		}
	}
	if body.MaxRadiusKm == 0 {
		body.MaxRadiusKm = s.MatchRadiusKm
	}
	if body.Limit == 0 {
		body.Limit = s.MatchLimit
	}

	req, err := s.Machine.Get(requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	cands, err := s.Matcher.FindCandidates(r.Context(), matcher.Query{
		Pickup:       req.Pickup.Coord,
		VehicleClass: req.VehicleClass,
		MaxRadiusKm:  body.MaxRadiusKm,
		Limit:        body.Limit,
		Exclude:      s.Machine.ExcludedActors(requestID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "candidates": cands})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]
	var body struct {
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.InvalidArgument("body", err.Error()))
		return
	}
	actor, err := s.Store.Snapshot(body.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.Machine.Get(requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	cand := models.Candidate{Actor: actor}
	if actor.Position != nil {
		cand.DistanceToPickupKm = geo.DistanceKm(actor.Position.Coord, req.Pickup.Coord)
		cand.ETAToPickupMin = geo.ETAMinutes(cand.DistanceToPickupKm, actor.VehicleClass, s.Matcher.Speeds)
	}
	req, err = s.Machine.Assign(requestID, cand)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Tracker.Start(requestID, body.ActorID); err != nil {
		s.logger.Warn("tracking start failed", "request_id", requestID, "error", err)
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]
	var body struct {
		Event lifecycle.Event `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.InvalidArgument("body", err.Error()))
		return
	}
	status, err := s.Machine.Signal(requestID, body.Event)
	if err != nil {
		writeError(w, err)
		return
	}
	if status.Terminal() {
		s.Tracker.Stop(requestID)
		s.WSReg.Detach(requestID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "status": status})
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]
	frame, ok := s.Tracker.Frame(requestID)
	if !ok {
		writeError(w, models.ErrUnknownRequest)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (s *Server) handleActorDeregister(w http.ResponseWriter, r *http.Request) {
	actorID := mux.Vars(r)["id"]
	if _, err := s.Store.Snapshot(actorID); err != nil {
		writeError(w, err)
		return
	}
	s.Store.Deregister(actorID)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS attaches a client socket as a watcher of one request; every
// lifecycle event and tracking frame is pushed to it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]
	if _, err := s.Machine.Get(requestID); err != nil {
		writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Attach(requestID, conn)
}

// handleFleetWS streams every accepted position fleet-wide, for the ops
// dashboard map. The subscription is torn down when the socket drops.
func (s *Server) handleFleetWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	var mu sync.Mutex
	unsub := s.Store.SubscribeRegion(func(a models.Actor) {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteJSON(a); err != nil {
			s.logger.Debug("fleet ws write failed", "error", err)
		}
	})
	go func() {
		defer unsub()
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case models.IsInvalidArgument(err):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownActor), errors.Is(err, models.ErrUnknownRequest):
		status = http.StatusNotFound
	case models.IsInvalidTransition(err), errors.Is(err, models.ErrNoCandidate), errors.Is(err, models.ErrActorUnavailable):
		status = http.StatusConflict
	case errors.Is(err, models.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
