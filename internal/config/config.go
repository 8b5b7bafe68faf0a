package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the tracking engine.
// Values come from environment variables with defaults good enough to run
// locally without setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	PushEndpoint string
	PushToken    string

	MatchRadiusKm      float64
	MatchLimit         int
	WeightDistance     float64
	WeightRating       float64
	WeightExperience   float64
	ArrivalThresholdKm float64
	StaleAfter         time.Duration
	RejectCooldown     time.Duration
	// RequireConfirmation demands an explicit complete signal after the
	// destination is reached instead of auto-completing on proximity.
	RequireConfirmation bool

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "actors_geo",
		KafkaTopic:         "actor-locations",
		MatchRadiusKm:      5,
		MatchLimit:         5,
		WeightDistance:     5,
		WeightRating:       3,
		WeightExperience:   2,
		ArrivalThresholdKm: 0.05,
		StaleAfter:         2 * time.Minute,
		RejectCooldown:     10 * time.Minute,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.PushToken = os.Getenv("PUSH_TOKEN")

	setFloatFromEnv(&cfg.MatchRadiusKm, "MATCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.MatchLimit, "MATCH_LIMIT", &errs)
	setFloatFromEnv(&cfg.WeightDistance, "MATCH_WEIGHT_DISTANCE", &errs)
	setFloatFromEnv(&cfg.WeightRating, "MATCH_WEIGHT_RATING", &errs)
	setFloatFromEnv(&cfg.WeightExperience, "MATCH_WEIGHT_EXPERIENCE", &errs)
	setFloatFromEnv(&cfg.ArrivalThresholdKm, "ARRIVAL_THRESHOLD_KM", &errs)
	setDurationFromEnv(&cfg.StaleAfter, "TRACKING_STALE_AFTER", &errs)
	setDurationFromEnv(&cfg.RejectCooldown, "REJECT_COOLDOWN", &errs)
	cfg.RequireConfirmation = strings.EqualFold(os.Getenv("REQUIRE_DELIVERY_CONFIRMATION"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_KM must be > 0"))
	}
	if cfg.MatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_LIMIT must be > 0"))
	}
	if cfg.ArrivalThresholdKm <= 0 {
		errs = append(errs, fmt.Errorf("ARRIVAL_THRESHOLD_KM must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
