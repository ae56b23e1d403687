package matcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/event"
	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/trip"
)

// TripTransitioner is the slice of the trip service the engine drives.
type TripTransitioner interface {
	Accept(ctx context.Context, tripID, driverID string) error
	Expire(ctx context.Context, tripID string) error
	Cancel(ctx context.Context, tripID, actor, reason string) error
}

// Engine runs one matching task per trip: incremental radius search over
// the candidate source, sequential offers through the offer book, and the
// terminal transition when the search ends.
type Engine struct {
	geo    geo.CandidateSource
	trips  TripTransitioner
	bus    event.Bus
	offers *OfferBook
	cfg    config.MatchingConfig
	logger *slog.Logger

	// SpeedMps converts candidate distance to the ETA decorating offers.
	SpeedMps float64
}

func NewEngine(source geo.CandidateSource, trips TripTransitioner, bus event.Bus, offers *OfferBook, cfg config.MatchingConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		geo:      source,
		trips:    trips,
		bus:      bus,
		offers:   offers,
		cfg:      cfg,
		logger:   logger,
		SpeedMps: 10,
	}
}

// Respond delivers a driver's decision on the trip's active offer. Stale
// or mismatched responses are ignored.
func (e *Engine) Respond(tripID, driverID string, accepted bool) bool {
	return e.offers.Respond(tripID, driverID, accepted)
}

// OfferForDriver returns the driver's current pending offer, if any.
func (e *Engine) OfferForDriver(driverID string) (models.Offer, bool) {
	return e.offers.ForDriver(driverID)
}

// Run executes the matching loop for one trip until a driver accepts, the
// search is exhausted, or ctx is cancelled. It always clears the trip's
// offer slots before returning.
func (e *Engine) Run(ctx context.Context, t *models.Trip) error {
	observability.MatchingTasksActive.Inc()
	defer observability.MatchingTasksActive.Dec()
	defer e.offers.Clear(t.ID)

	log := e.logger.With("trip_id", t.ID)
	started := time.Now()

	// notified ∪ rejected drivers; owned exclusively by this task
	excluded := make(map[string]struct{})

	radius := e.cfg.MinRadiusKm
	retries := 0
	storeFailures := 0

	for retries < e.cfg.MaxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}

		cands, err := e.geo.Nearby(ctx, t.Pickup.Lat, t.Pickup.Lon, radius, e.cfg.MaxCandidates)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// a flaky geo lookup is an empty iteration, never fatal
			log.Warn("candidate lookup failed", "radius_km", radius, "error", err)
			cands = nil
		}

		cand, ok := firstEligible(cands, excluded)
		if !ok {
			radius = minf(radius+e.cfg.RadiusStepKm, e.cfg.MaxRadiusKm)
			retries++
			if err := sleepCtx(ctx, e.cfg.RetryBackoff); err != nil {
				return err
			}
			continue
		}

		accepted, err := e.offerAndWait(ctx, t, cand, excluded, log)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrDriverBusy) {
				// the driver is negotiating another trip; retry the sweep
				retries++
				if err := sleepCtx(ctx, e.cfg.RetryBackoff); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if accepted {
			if err := e.acceptTrip(ctx, t, cand, log); err != nil {
				if errors.Is(err, errTripGone) {
					return nil
				}
				storeFailures++
				if storeFailures >= e.cfg.MaxRetries {
					return e.escalate(ctx, t.ID, log)
				}
				// the driver said yes but the write failed; exclude and keep searching
				continue
			}
			observability.MatchLatency.Observe(time.Since(started).Seconds())
			log.Info("driver matched", "driver_id", cand.DriverID, "distance_km", cand.DistanceKm)
			return nil
		}
		// rejected or timed out: the driver is excluded, the retry budget
		// is only consumed by genuinely empty sweeps
	}

	log.Info("search exhausted", "radius_km", radius, "excluded", len(excluded))
	if err := e.trips.Expire(ctx, t.ID); err != nil {
		var ve *trip.ValidationError
		if errors.Is(err, trip.ErrStatusConflict) || errors.Is(err, trip.ErrNotFound) || errors.As(err, &ve) {
			// the trip moved on (cancelled) while we were searching
			return nil
		}
		return e.escalate(ctx, t.ID, log)
	}
	return nil
}

// offerAndWait runs the offer protocol for a single candidate: claim both
// offer slots, announce the offer, then wait for the driver's decision,
// expiry, or cancellation. Both slots are released on every path.
func (e *Engine) offerAndWait(ctx context.Context, t *models.Trip, cand models.DriverCandidate, excluded map[string]struct{}, log *slog.Logger) (bool, error) {
	now := time.Now().UTC()
	offer := models.Offer{
		ID:         event.NewID(),
		TripID:     t.ID,
		DriverID:   cand.DriverID,
		DistanceKm: cand.DistanceKm,
		FareAmount: t.EstimatedFare,
		ETASeconds: etaSeconds(cand.DistanceKm, e.SpeedMps),
		Status:     models.OfferPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.OfferTimeout),
	}

	resp, err := e.offers.Create(offer)
	if err != nil {
		return false, err
	}

	e.publish(ctx, event.OfferCreated, map[string]any{
		"offer_id":    offer.ID,
		"trip_id":     offer.TripID,
		"driver_id":   offer.DriverID,
		"distance_km": offer.DistanceKm,
		"fare_amount": offer.FareAmount,
		"expires_at":  offer.ExpiresAt.Format(time.RFC3339),
	}, log)
	observability.OffersTotal.WithLabelValues("created").Inc()

	// excluded immediately so this driver is never re-offered this trip,
	// whatever happens to the offer
	excluded[cand.DriverID] = struct{}{}

	expiry := time.NewTimer(e.cfg.OfferTimeout)
	defer expiry.Stop()

	select {
	case accepted := <-resp:
		e.offers.Clear(t.ID)
		if accepted {
			observability.OffersTotal.WithLabelValues("accepted").Inc()
			return true, nil
		}
		observability.OffersTotal.WithLabelValues("rejected").Inc()
		e.publish(ctx, event.OfferRejected, map[string]any{
			"offer_id": offer.ID, "trip_id": t.ID, "driver_id": cand.DriverID,
		}, log)
		return false, nil

	case <-expiry.C:
		e.offers.Clear(t.ID)
		observability.OffersTotal.WithLabelValues("expired").Inc()
		e.publish(ctx, event.OfferExpired, map[string]any{
			"offer_id": offer.ID, "trip_id": t.ID, "driver_id": cand.DriverID,
		}, log)
		return false, nil

	case <-ctx.Done():
		// cancelled mid-wait: release the driver before exiting, publish nothing
		e.offers.Clear(t.ID)
		return false, ctx.Err()
	}
}

// errTripGone means the trip left the matching state under us.
var errTripGone = errors.New("trip no longer matching")

func (e *Engine) acceptTrip(ctx context.Context, t *models.Trip, cand models.DriverCandidate, log *slog.Logger) error {
	err := e.trips.Accept(ctx, t.ID, cand.DriverID)
	if err == nil {
		e.publish(ctx, event.OfferAccepted, map[string]any{
			"trip_id": t.ID, "driver_id": cand.DriverID,
		}, log)
		return nil
	}
	var ve *trip.ValidationError
	if errors.Is(err, trip.ErrStatusConflict) || errors.Is(err, trip.ErrNotFound) || errors.As(err, &ve) {
		log.Info("trip left matching before acceptance", "driver_id", cand.DriverID)
		return errTripGone
	}
	log.Error("accept write failed", "driver_id", cand.DriverID, "error", err)
	return err
}

// escalate cancels a trip the engine can no longer progress.
func (e *Engine) escalate(ctx context.Context, tripID string, log *slog.Logger) error {
	log.Error("matching unrecoverable, cancelling trip")
	if err := e.trips.Cancel(ctx, tripID, "system", "system_error"); err != nil {
		log.Error("system cancel failed", "error", err)
		return err
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, eventType string, payload map[string]any, log *slog.Logger) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, event.New(eventType, payload)); err != nil {
		log.Error("event publish failed", "event_type", eventType, "error", err)
	}
}

func firstEligible(cands []models.DriverCandidate, excluded map[string]struct{}) (models.DriverCandidate, bool) {
	for _, c := range cands {
		if _, ok := excluded[c.DriverID]; ok {
			continue
		}
		return c, true
	}
	return models.DriverCandidate{}, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func etaSeconds(distanceKm, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0
	}
	return distanceKm * 1000.0 / speedMps
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
