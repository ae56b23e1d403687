package pricing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/eta"
	"github.com/example/trip-dispatch/internal/models"
)

func testPricingConfig() config.PricingConfig {
	return config.PricingConfig{
		BaseFare:  2.5,
		PerKm:     1.2,
		PerMinute: 0.35,
		SpeedMps:  10,
		MinFare:   4.0,
		Currency:  "EUR",
	}
}

var (
	alexanderplatz = models.Coord{Lat: 52.5219, Lon: 13.4132}
	brandenburg    = models.Coord{Lat: 52.5163, Lon: 13.3777}
)

type fixedETA struct {
	seconds float64
	err     error
	calls   int
}

func (f *fixedETA) EstimateSeconds(models.Coord, models.Coord) (float64, error) {
	f.calls++
	return f.seconds, f.err
}

func TestEstimateUsesFareFormula(t *testing.T) {
	cfg := testPricingConfig()
	est := NewEstimator(cfg, &fixedETA{seconds: 600}, nil)

	got, err := est.Estimate(context.Background(), alexanderplatz, brandenburg, 1.0)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	// distance is ~2.48km straight line, 10 minutes of travel time
	want := cfg.BaseFare + 2.48*cfg.PerKm + 10*cfg.PerMinute
	if math.Abs(got-want) > 0.10 {
		t.Fatalf("fare %f, want about %f", got, want)
	}
}

func TestEstimateAppliesSurge(t *testing.T) {
	est := NewEstimator(testPricingConfig(), &fixedETA{seconds: 600}, nil)

	base, _ := est.Estimate(context.Background(), alexanderplatz, brandenburg, 1.0)
	surged, _ := est.Estimate(context.Background(), alexanderplatz, brandenburg, 2.0)
	if math.Abs(surged-2*base) > 0.02 {
		t.Fatalf("surge 2.0 gave %f, want about %f", surged, 2*base)
	}

	// non-positive surge falls back to 1.0
	fallback, _ := est.Estimate(context.Background(), alexanderplatz, brandenburg, 0)
	if fallback != base {
		t.Fatalf("surge 0 gave %f, want %f", fallback, base)
	}
}

func TestEstimateFlooredAtMinFare(t *testing.T) {
	cfg := testPricingConfig()
	cfg.BaseFare = 0.1
	est := NewEstimator(cfg, &fixedETA{seconds: 5}, nil)

	got, err := est.Estimate(context.Background(), alexanderplatz, alexanderplatz, 1.0)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got != cfg.MinFare {
		t.Fatalf("zero-length trip must cost MinFare %f, got %f", cfg.MinFare, got)
	}
}

func TestEstimateRoundedToCents(t *testing.T) {
	est := NewEstimator(testPricingConfig(), &fixedETA{seconds: 601.7}, nil)
	got, _ := est.Estimate(context.Background(), alexanderplatz, brandenburg, 1.37)
	if got != math.Round(got*100)/100 {
		t.Fatalf("fare %v not rounded to cents", got)
	}
}

func TestTravelSecondsPrefersCacheThenClient(t *testing.T) {
	cache := eta.NewCache(time.Minute)
	cli := &fixedETA{seconds: 300}
	est := NewEstimator(testPricingConfig(), cli, cache)

	if _, err := est.Estimate(context.Background(), alexanderplatz, brandenburg, 1.0); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if cli.calls != 1 {
		t.Fatalf("expected one routing call, got %d", cli.calls)
	}
	// the second estimate is served from the cache
	if _, err := est.Estimate(context.Background(), alexanderplatz, brandenburg, 1.0); err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if cli.calls != 1 {
		t.Fatalf("cache miss on second estimate, %d routing calls", cli.calls)
	}
}

func TestTravelSecondsFallsBackOnClientError(t *testing.T) {
	cli := &fixedETA{err: errors.New("osrm down")}
	est := NewEstimator(testPricingConfig(), cli, nil)

	got, err := est.Estimate(context.Background(), alexanderplatz, brandenburg, 1.0)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got < 4.0 {
		t.Fatalf("fallback estimate implausible: %f", got)
	}
	if cli.calls != 1 {
		t.Fatalf("routing client not consulted")
	}
}
