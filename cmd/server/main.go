package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/guetchou/bantudelice-tracking/internal/config"
	"github.com/guetchou/bantudelice-tracking/internal/dispatch"
	"github.com/guetchou/bantudelice-tracking/internal/geo"
	httpapi "github.com/guetchou/bantudelice-tracking/internal/http"
	"github.com/guetchou/bantudelice-tracking/internal/ingest"
	"github.com/guetchou/bantudelice-tracking/internal/lifecycle"
	"github.com/guetchou/bantudelice-tracking/internal/locstore"
	"github.com/guetchou/bantudelice-tracking/internal/logging"
	"github.com/guetchou/bantudelice-tracking/internal/matcher"
	"github.com/guetchou/bantudelice-tracking/internal/payments"
	"github.com/guetchou/bantudelice-tracking/internal/storage"
	"github.com/guetchou/bantudelice-tracking/internal/tracking"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found (using environment variables)")
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	store := locstore.New(logger)
	if cfg.RedisAddr != "" {
		store.SetMirror(locstore.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey))
	}

	var persist storage.SnapshotStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN)
		}
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			persist = ps
		} else {
			logger.Error("postgres unavailable, falling back to memory", "error", err)
		}
	}
	if persist == nil {
		persist = storage.NewMemoryStore()
	}

	wsreg := dispatch.NewWSRegistry(logger)
	sink := dispatch.Fanout{&dispatch.LogSink{Logger: logger}, wsreg}
	if cfg.PushEndpoint != "" {
		sink = append(sink, dispatch.NewHTTPPushSink(cfg.PushEndpoint, cfg.PushToken, logger))
	}

	speeds := geo.DefaultSpeeds()

	machine := lifecycle.NewMachine(store, sink, persist, lifecycle.Config{
		RejectCooldown:      cfg.RejectCooldown,
		RequireConfirmation: cfg.RequireConfirmation,
		Speeds:              speeds,
	}, logger)
	machine.CompletionHook = func(actorID string) {
		if err := store.IncrementTrips(actorID); err != nil {
			logger.Warn("trip counter update failed", "actor_id", actorID, "error", err)
			return
		}
		if a, err := store.Snapshot(actorID); err == nil {
			if err := persist.SaveActor(a); err != nil {
				logger.Warn("actor snapshot persist failed", "actor_id", actorID, "error", err)
			}
		}
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		machine.SetPayments(payments.NewStripeClient())
	}

	engine := matcher.New(store)
	engine.Speeds = speeds
	engine.Weights = matcher.Weights{
		Distance:   cfg.WeightDistance,
		Rating:     cfg.WeightRating,
		Experience: cfg.WeightExperience,
	}

	tracker := tracking.NewManager(store, machine, sink, tracking.Config{
		ArrivalThresholdKm: cfg.ArrivalThresholdKm,
		StaleAfter:         cfg.StaleAfter,
		Speeds:             speeds,
	}, logger)

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Store:         store,
		Matcher:       engine,
		Machine:       machine,
		Tracker:       tracker,
		Kafka:         producer,
		WSReg:         wsreg,
		MatchRadiusKm: cfg.MatchRadiusKm,
		MatchLimit:    cfg.MatchLimit,
		Logger:        logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("tracking engine listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_tracking.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_create_tracking.sql")
}
