package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
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
	KafkaGroupID string

	PGDSN string

	Matching MatchingConfig
	Pricing  PricingConfig

	OSRMEndpoint string
	PushEndpoint string
	PushKey      string

	LogLevel      string
	RunMigrations bool
}

// MatchingConfig holds the dispatch loop knobs. The defaults mirror the
// production tuning: search from 1km out to 10km in 1km steps, offer each
// candidate for 30s, and give up after 3 consecutive empty sweeps.
type MatchingConfig struct {
	MinRadiusKm   float64
	MaxRadiusKm   float64
	RadiusStepKm  float64
	MaxCandidates int
	MaxRetries    int
	RetryBackoff  time.Duration
	OfferTimeout  time.Duration
}

type PricingConfig struct {
	BaseFare  float64
	PerKm     float64
	PerMinute float64
	SpeedMps  float64
	MinFare   float64
	Currency  string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers:geo",
		KafkaGroupID:    "trip-dispatch",
		Matching: MatchingConfig{
			MinRadiusKm:   1.0,
			MaxRadiusKm:   10.0,
			RadiusStepKm:  1.0,
			MaxCandidates: 10,
			MaxRetries:    3,
			RetryBackoff:  5 * time.Second,
			OfferTimeout:  30 * time.Second,
		},
		Pricing: PricingConfig{
			BaseFare:  2.5,
			PerKm:     1.2,
			PerMinute: 0.35,
			SpeedMps:  10,
			MinFare:   4.0,
			Currency:  "EUR",
		},
		LogLevel: "info",
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
	setStringFromEnv(&cfg.KafkaGroupID, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.Matching.MinRadiusKm, "MATCH_RADIUS_MIN_KM", &errs)
	setFloatFromEnv(&cfg.Matching.MaxRadiusKm, "MATCH_RADIUS_MAX_KM", &errs)
	setFloatFromEnv(&cfg.Matching.RadiusStepKm, "MATCH_RADIUS_STEP_KM", &errs)
	setIntFromEnv(&cfg.Matching.MaxCandidates, "MATCH_MAX_CANDIDATES", &errs)
	setIntFromEnv(&cfg.Matching.MaxRetries, "MATCH_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.Matching.RetryBackoff, "MATCH_RETRY_BACKOFF", &errs)
	setDurationFromEnv(&cfg.Matching.OfferTimeout, "MATCH_OFFER_TIMEOUT", &errs)

	setFloatFromEnv(&cfg.Pricing.BaseFare, "PRICING_BASE_FARE", &errs)
	setFloatFromEnv(&cfg.Pricing.PerKm, "PRICING_PER_KM", &errs)
	setFloatFromEnv(&cfg.Pricing.PerMinute, "PRICING_PER_MINUTE", &errs)
	setFloatFromEnv(&cfg.Pricing.SpeedMps, "PRICING_DEFAULT_SPEED_MPS", &errs)
	setFloatFromEnv(&cfg.Pricing.MinFare, "PRICING_MIN_FARE", &errs)
	setStringFromEnv(&cfg.Pricing.Currency, "PRICING_CURRENCY")

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if err := cfg.Matching.validate(); err != nil {
		errs = append(errs, err)
	}

	return cfg, errors.Join(errs...)
}

func (m MatchingConfig) validate() error {
	var errs []error
	if m.MinRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_MIN_KM must be > 0"))
	}
	if m.MaxRadiusKm < m.MinRadiusKm {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_MAX_KM must be >= MATCH_RADIUS_MIN_KM"))
	}
	if m.RadiusStepKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_STEP_KM must be > 0"))
	}
	if m.MaxCandidates <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_MAX_CANDIDATES must be > 0"))
	}
	if m.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_MAX_RETRIES must be > 0"))
	}
	if m.OfferTimeout <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_OFFER_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
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
