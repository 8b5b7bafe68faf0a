package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guetchou/bantudelice-tracking/internal/dispatch"
	"github.com/guetchou/bantudelice-tracking/internal/lifecycle"
	"github.com/guetchou/bantudelice-tracking/internal/locstore"
	"github.com/guetchou/bantudelice-tracking/internal/matcher"
	"github.com/guetchou/bantudelice-tracking/internal/models"
	"github.com/guetchou/bantudelice-tracking/internal/storage"
	"github.com/guetchou/bantudelice-tracking/internal/tracking"
)

func newTestServer() (*Server, *locstore.Store, *lifecycle.Machine) {
	store := locstore.New(nil)
	machine := lifecycle.NewMachine(store, nil, storage.NewMemoryStore(), lifecycle.DefaultConfig(), nil)
	tracker := tracking.NewManager(store, machine, nil, tracking.DefaultConfig(), nil)
	srv := NewServer(Deps{
		Store:         store,
		Matcher:       matcher.New(store),
		Machine:       machine,
		Tracker:       tracker,
		WSReg:         dispatch.NewWSRegistry(nil),
		MatchRadiusKm: 5,
		MatchLimit:    5,
	})
	return srv, store, machine
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func locationBody(lat, lng float64, at time.Time) map[string]any {
	return map[string]any{"lat": lat, "lng": lng, "captured_at": at.Format(time.RFC3339)}
}

var testStamp = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestLocationIngestAcceptAndStaleDrop(t *testing.T) {
	srv, _, _ := newTestServer()

	w := doJSON(t, srv, "POST", "/api/v1/actors/d1/location", locationBody(-4.2634, 15.2429, testStamp))
	if w.Code != http.StatusOK {
		t.Fatalf("accept: got %d body=%s", w.Code, w.Body)
	}

	// same timestamp again: stale, acknowledged with 202
	w = doJSON(t, srv, "POST", "/api/v1/actors/d1/location", locationBody(-4.3, 15.3, testStamp))
	if w.Code != http.StatusAccepted {
		t.Fatalf("stale drop: got %d body=%s", w.Code, w.Body)
	}
}

func TestLocationIngestRejectsBadCoords(t *testing.T) {
	srv, _, _ := newTestServer()
	w := doJSON(t, srv, "POST", "/api/v1/actors/d1/location", locationBody(91, 15, testStamp))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d body=%s", w.Code, w.Body)
	}
}

func TestCreateRequestReturnsEstimates(t *testing.T) {
	srv, _, _ := newTestServer()
	w := doJSON(t, srv, "POST", "/api/v1/requests", map[string]any{
		"pickup":        map[string]any{"lat": -4.2650, "lng": 15.2440, "address": "Avenue de la Paix"},
		"destination":   map[string]any{"lat": -4.2800, "lng": 15.2600, "address": "Marché Total"},
		"vehicle_class": "standard",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("got %d body=%s", w.Code, w.Body)
	}
	var req models.Request
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Status != models.StatusMatching {
		t.Fatalf("new request should be matching, got %s", req.Status)
	}
	if req.EstimatedDistanceKm <= 0 || req.PriceEstimateXAF <= 0 {
		t.Fatalf("estimates missing: %+v", req)
	}
}

func TestMatchEndpointReturnsRankedCandidates(t *testing.T) {
	srv, store, _ := newTestServer()

	pos := models.Position{Coord: models.Coord{Lat: -4.2634, Lng: 15.2429}, CapturedAt: testStamp}
	if _, err := store.UpdatePosition("d1", pos); err != nil {
		t.Fatalf("seed actor: %v", err)
	}
	if err := store.UpsertProfile("d1", models.ClassStandard, 4.5, 20); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	reqID := createRequest(t, srv)
	w := doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/match", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", w.Code, w.Body)
	}
	var out struct {
		Candidates []models.Candidate `json:"candidates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Candidates) != 1 || out.Candidates[0].Actor.ID != "d1" {
		t.Fatalf("expected d1 as only candidate, got %+v", out.Candidates)
	}
}

func TestMatchEmptyPoolReturnsEmptyList(t *testing.T) {
	srv, _, _ := newTestServer()
	reqID := createRequest(t, srv)
	w := doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/match", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", w.Code, w.Body)
	}
	var out struct {
		Candidates []models.Candidate `json:"candidates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Candidates) != 0 {
		t.Fatalf("expected empty list, got %+v", out.Candidates)
	}
}

func TestMatchInvalidRadius(t *testing.T) {
	srv, _, _ := newTestServer()
	reqID := createRequest(t, srv)
	w := doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/match", map[string]any{"max_radius_km": -2})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d body=%s", w.Code, w.Body)
	}
}

func TestAssignAndTransitionFlow(t *testing.T) {
	srv, store, _ := newTestServer()
	pos := models.Position{Coord: models.Coord{Lat: -4.2634, Lng: 15.2429}, CapturedAt: testStamp}
	store.UpdatePosition("d1", pos)
	reqID := createRequest(t, srv)

	w := doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/assign", map[string]any{"actor_id": "d1"})
	if w.Code != http.StatusOK {
		t.Fatalf("assign: got %d body=%s", w.Code, w.Body)
	}
	actor, err := store.Snapshot("d1")
	if err != nil || actor.Availability != models.Busy {
		t.Fatalf("assigned actor must be busy, got %+v err=%v", actor, err)
	}

	w = doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/transition", map[string]any{"event": "depart"})
	if w.Code != http.StatusOK {
		t.Fatalf("depart: got %d body=%s", w.Code, w.Body)
	}

	// start is not legal from actor_en_route
	w = doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/transition", map[string]any{"event": "start"})
	if w.Code != http.StatusConflict {
		t.Fatalf("invalid transition: got %d body=%s", w.Code, w.Body)
	}

	w = doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/transition", map[string]any{"event": "cancel"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: got %d body=%s", w.Code, w.Body)
	}
	actor, _ = store.Snapshot("d1")
	if actor.Availability != models.Available {
		t.Fatalf("cancel must free the actor, got %s", actor.Availability)
	}
}

func TestAssignBusyActorConflicts(t *testing.T) {
	srv, store, _ := newTestServer()
	pos := models.Position{Coord: models.Coord{Lat: -4.2634, Lng: 15.2429}, CapturedAt: testStamp}
	store.UpdatePosition("d1", pos)
	r1 := createRequest(t, srv)
	r2 := createRequest(t, srv)

	w := doJSON(t, srv, "POST", "/api/v1/requests/"+r1+"/assign", map[string]any{"actor_id": "d1"})
	if w.Code != http.StatusOK {
		t.Fatalf("first assign: got %d body=%s", w.Code, w.Body)
	}
	w = doJSON(t, srv, "POST", "/api/v1/requests/"+r2+"/assign", map[string]any{"actor_id": "d1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("busy actor must not be assignable twice: got %d body=%s", w.Code, w.Body)
	}
}

func TestTrackingEndpointLifecycle(t *testing.T) {
	srv, store, _ := newTestServer()
	pos := models.Position{Coord: models.Coord{Lat: -4.2634, Lng: 15.2429}, CapturedAt: testStamp}
	store.UpdatePosition("d1", pos)
	reqID := createRequest(t, srv)

	// no session yet
	w := doJSON(t, srv, "GET", "/api/v1/requests/"+reqID+"/tracking", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("no session: got %d", w.Code)
	}

	doJSON(t, srv, "POST", "/api/v1/requests/"+reqID+"/assign", map[string]any{"actor_id": "d1"})

	// feed a fresh fix through the ingest endpoint and poll for the frame
	doJSON(t, srv, "POST", "/api/v1/actors/d1/location", locationBody(-4.2640, 15.2435, testStamp.Add(time.Second)))
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = doJSON(t, srv, "GET", "/api/v1/requests/"+reqID+"/tracking", nil)
		if w.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("frame never appeared: %d %s", w.Code, w.Body)
		}
		time.Sleep(10 * time.Millisecond)
	}
	var frame models.TrackingFrame
	if err := json.Unmarshal(w.Body.Bytes(), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.RequestID != reqID || frame.RemainingKm <= 0 {
		t.Fatalf("bad frame: %+v", frame)
	}
}

func TestUnknownRequestIs404(t *testing.T) {
	srv, _, _ := newTestServer()
	for _, path := range []string{
		"/api/v1/requests/nope",
		"/api/v1/requests/nope/tracking",
	} {
		w := doJSON(t, srv, "GET", path, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: got %d", path, w.Code)
		}
	}
}

func createRequest(t *testing.T, srv http.Handler) string {
	t.Helper()
	w := doJSON(t, srv, "POST", "/api/v1/requests", map[string]any{
		"pickup":        map[string]any{"lat": -4.2650, "lng": 15.2440},
		"destination":   map[string]any{"lat": -4.2800, "lng": 15.2600},
		"vehicle_class": "standard",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create request: %d %s", w.Code, w.Body)
	}
	var req models.Request
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.ID == "" {
		t.Fatal("missing request id")
	}
	return req.ID
}
