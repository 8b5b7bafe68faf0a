package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guetchou/bantudelice-tracking/internal/dispatch"
	"github.com/guetchou/bantudelice-tracking/internal/ingest"
	"github.com/guetchou/bantudelice-tracking/internal/lifecycle"
	"github.com/guetchou/bantudelice-tracking/internal/locstore"
	"github.com/guetchou/bantudelice-tracking/internal/matcher"
	"github.com/guetchou/bantudelice-tracking/internal/tracking"
)

// Server is the HTTP/WS boundary of the tracking engine.
type Server struct {
	Store   *locstore.Store
	Matcher *matcher.Engine
	Machine *lifecycle.Machine
	Tracker *tracking.Manager
	Kafka   *ingest.KafkaProducer // optional
	WSReg   *dispatch.WSRegistry

	MatchRadiusKm float64
	MatchLimit    int

	logger *slog.Logger
	mux    *mux.Router
}

type Deps struct {
	Store   *locstore.Store
	Matcher *matcher.Engine
	Machine *lifecycle.Machine
	Tracker *tracking.Manager
	Kafka   *ingest.KafkaProducer
	WSReg   *dispatch.WSRegistry

	MatchRadiusKm float64
	MatchLimit    int
	Logger        *slog.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		Store:         d.Store,
		Matcher:       d.Matcher,
		Machine:       d.Machine,
		Tracker:       d.Tracker,
		Kafka:         d.Kafka,
		WSReg:         d.WSReg,
		MatchRadiusKm: d.MatchRadiusKm,
		MatchLimit:    d.MatchLimit,
		logger:        d.Logger,
		mux:           mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/actors/{id}/location", s.handleActorLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/actors/{id}/availability", s.handleActorAvailability).Methods("POST")
	s.mux.HandleFunc("/api/v1/actors/{id}", s.handleActorProfile).Methods("PUT")
	s.mux.HandleFunc("/api/v1/actors/{id}", s.handleActorGet).Methods("GET")
	s.mux.HandleFunc("/api/v1/actors/{id}", s.handleActorDeregister).Methods("DELETE")

	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/match", s.handleMatch).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/assign", s.handleAssign).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/transition", s.handleTransition).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/tracking", s.handleTracking).Methods("GET")

	s.mux.HandleFunc("/ws/requests/{id}", s.handleWS)
	s.mux.HandleFunc("/ws/fleet", s.handleFleetWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
