package pricing

import (
	"context"
	"math"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/eta"
	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
)

// Estimator computes the upfront fare estimate:
// (base + distance*perKm + minutes*perMinute) * surge, floored at MinFare.
type Estimator struct {
	cfg      config.PricingConfig
	etaCli   eta.Client // optional routing engine
	etaCache *eta.Cache // optional
}

func NewEstimator(cfg config.PricingConfig, etaCli eta.Client, cache *eta.Cache) *Estimator {
	return &Estimator{cfg: cfg, etaCli: etaCli, etaCache: cache}
}

func (e *Estimator) Estimate(_ context.Context, pickup, dropoff models.Coord, surge float64) (float64, error) {
	if surge <= 0 {
		surge = 1.0
	}
	distKm := geo.Haversine(pickup.Lat, pickup.Lon, dropoff.Lat, dropoff.Lon) / 1000.0
	seconds := e.travelSeconds(pickup, dropoff)

	fare := e.cfg.BaseFare + distKm*e.cfg.PerKm + (seconds/60.0)*e.cfg.PerMinute
	fare *= surge
	if fare < e.cfg.MinFare {
		fare = e.cfg.MinFare
	}
	return math.Round(fare*100) / 100, nil
}

func (e *Estimator) travelSeconds(from, to models.Coord) float64 {
	if e.etaCache != nil {
		if v, ok := e.etaCache.Get(from, to); ok {
			return v
		}
	}
	if e.etaCli != nil {
		if v, err := e.etaCli.EstimateSeconds(from, to); err == nil {
			if e.etaCache != nil {
				e.etaCache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, e.cfg.SpeedMps)
}
