package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("default addr %q", cfg.HTTPAddr)
	}
	m := cfg.Matching
	if m.MinRadiusKm != 1.0 || m.MaxRadiusKm != 10.0 || m.RadiusStepKm != 1.0 {
		t.Fatalf("unexpected radius defaults: %+v", m)
	}
	if m.MaxCandidates != 10 || m.MaxRetries != 3 {
		t.Fatalf("unexpected retry defaults: %+v", m)
	}
	if m.OfferTimeout != 30*time.Second || m.RetryBackoff != 5*time.Second {
		t.Fatalf("unexpected timing defaults: %+v", m)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("MATCH_RADIUS_MAX_KM", "25")
	t.Setenv("MATCH_OFFER_TIMEOUT", "10s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("addr override ignored: %q", cfg.HTTPAddr)
	}
	if cfg.Matching.MaxRadiusKm != 25 {
		t.Fatalf("radius override ignored: %f", cfg.Matching.MaxRadiusKm)
	}
	if cfg.Matching.OfferTimeout != 10*time.Second {
		t.Fatalf("timeout override ignored: %v", cfg.Matching.OfferTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("broker list not parsed: %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not lowercased: %q", cfg.LogLevel)
	}
}

func TestInvalidValuesReported(t *testing.T) {
	t.Setenv("MATCH_OFFER_TIMEOUT", "soon")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatalf("expected an error for an unparseable duration")
	}
}

func TestMatchingValidation(t *testing.T) {
	t.Setenv("MATCH_RADIUS_MIN_KM", "5")
	t.Setenv("MATCH_RADIUS_MAX_KM", "2")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatalf("expected max < min to be rejected")
	}
}
