package trip

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/trip-dispatch/internal/event"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/storage"
)

// FareEstimator supplies the fare estimate at creation time. The service
// treats the returned amount as an opaque number.
type FareEstimator interface {
	Estimate(ctx context.Context, pickup, dropoff models.Coord, surge float64) (float64, error)
}

// PaymentProvider holds funds at creation, captures on completion and
// releases on cancellation. All calls are best-effort from the lifecycle's
// point of view.
type PaymentProvider interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

// Service owns every trip mutation. All writes go through the store's
// conditional status update so concurrent callers resolve to one winner.
type Service struct {
	store    storage.TripStore
	bus      event.Bus
	pricing  FareEstimator   // optional
	payments PaymentProvider // optional
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store storage.TripStore, bus event.Bus, pricing FareEstimator, payments PaymentProvider, currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "EUR"
	}
	return &Service{
		store:    store,
		bus:      bus,
		pricing:  pricing,
		payments: payments,
		currency: currency,
		logger:   logger,
		now:      time.Now,
	}
}

// Create registers a new trip in status pending. A rider with an active
// trip is rejected with a BusinessRuleViolation and nothing is written.
func (s *Service) Create(ctx context.Context, req models.TripRequest) (*models.Trip, error) {
	if req.RiderID == "" {
		return nil, &BusinessRuleViolation{Reason: "rider_id is required"}
	}
	active, err := s.store.ActiveTripForRider(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &BusinessRuleViolation{Reason: "rider already has an active trip"}
	}

	surge := req.Surge
	if surge <= 0 {
		surge = 1.0
	}
	var fare float64
	if s.pricing != nil {
		if fare, err = s.pricing.Estimate(ctx, req.Pickup, req.Dropoff, surge); err != nil {
			s.logger.Warn("fare estimate failed, proceeding without", "rider_id", req.RiderID, "error", err)
			fare = 0
		}
	}

	t := &models.Trip{
		ID:             event.NewID(),
		RiderID:        req.RiderID,
		Pickup:         req.Pickup,
		PickupAddress:  req.PickupAddress,
		Dropoff:        req.Dropoff,
		DropoffAddress: req.DropoffAddress,
		Status:         models.StatusPending,
		EstimatedFare:  fare,
		Surge:          surge,
		CreatedAt:      s.now().UTC(),
	}

	if s.payments != nil && fare > 0 {
		ref, err := s.payments.Hold(ctx, int64(fare*100), s.currency, req.RiderID)
		if err != nil {
			s.logger.Warn("payment hold failed", "trip_id", t.ID, "error", err)
		} else {
			t.PaymentRef = ref
		}
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	observability.TripTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	return t, nil
}

// StartMatching moves pending→matching and announces the trip to the
// dispatch coordinator.
func (s *Service) StartMatching(ctx context.Context, tripID string) error {
	t, err := s.transition(ctx, tripID, models.StatusPending, models.StatusMatching, storage.StatusFields{})
	if err != nil {
		return err
	}
	s.publish(ctx, event.TripMatchingRequested, map[string]any{
		"trip_id":        t.ID,
		"pickup_lat":     t.Pickup.Lat,
		"pickup_lon":     t.Pickup.Lon,
		"estimated_fare": t.EstimatedFare,
	})
	return nil
}

// Accept assigns the driver, matching→accepted. Exactly one of two
// concurrent accepts succeeds; the loser gets ErrStatusConflict.
func (s *Service) Accept(ctx context.Context, tripID, driverID string) error {
	if driverID == "" {
		return &BusinessRuleViolation{Reason: "driver_id is required"}
	}
	now := s.now().UTC()
	t, err := s.transition(ctx, tripID, models.StatusMatching, models.StatusAccepted, storage.StatusFields{
		DriverID:   &driverID,
		AcceptedAt: &now,
	})
	if err != nil {
		return err
	}
	s.publish(ctx, event.TripAccepted, map[string]any{
		"trip_id":   t.ID,
		"rider_id":  t.RiderID,
		"driver_id": driverID,
	})
	return nil
}

func (s *Service) DriverArrived(ctx context.Context, tripID string) error {
	now := s.now().UTC()
	t, err := s.transition(ctx, tripID, models.StatusAccepted, models.StatusDriverArrived, storage.StatusFields{ArrivedAt: &now})
	if err != nil {
		return err
	}
	s.publish(ctx, event.TripDriverArrived, map[string]any{"trip_id": t.ID, "rider_id": t.RiderID, "driver_id": t.DriverID})
	return nil
}

func (s *Service) StartRide(ctx context.Context, tripID string) error {
	now := s.now().UTC()
	t, err := s.transition(ctx, tripID, models.StatusDriverArrived, models.StatusInProgress, storage.StatusFields{StartedAt: &now})
	if err != nil {
		return err
	}
	s.publish(ctx, event.TripStarted, map[string]any{"trip_id": t.ID, "rider_id": t.RiderID, "driver_id": t.DriverID})
	return nil
}

func (s *Service) Complete(ctx context.Context, tripID string, finalFare float64) error {
	now := s.now().UTC()
	t, err := s.transition(ctx, tripID, models.StatusInProgress, models.StatusCompleted, storage.StatusFields{
		FinalFare:   &finalFare,
		CompletedAt: &now,
	})
	if err != nil {
		return err
	}
	if s.payments != nil && t.PaymentRef != "" {
		if err := s.payments.Capture(ctx, t.PaymentRef); err != nil {
			s.logger.Warn("payment capture failed", "trip_id", tripID, "error", err)
		}
	}
	s.publish(ctx, event.TripCompleted, map[string]any{
		"trip_id":    t.ID,
		"rider_id":   t.RiderID,
		"driver_id":  t.DriverID,
		"final_fare": finalFare,
	})
	return nil
}

// Cancel moves any non-terminal trip to cancelled. actor is rider, driver
// or system; the reason is surfaced verbatim to users.
func (s *Service) Cancel(ctx context.Context, tripID, actor, reason string) error {
	t, err := s.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if !CanTransition(t.Status, models.StatusCancelled) {
		return &ValidationError{TripID: tripID, From: t.Status, To: models.StatusCancelled}
	}
	now := s.now().UTC()
	ok, err := s.store.ConditionalUpdateStatus(ctx, tripID, t.Status, models.StatusCancelled, storage.StatusFields{
		CancelledBy:  &actor,
		CancelReason: &reason,
		CancelledAt:  &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStatusConflict
	}
	observability.TripTransitions.WithLabelValues(string(models.StatusCancelled)).Inc()
	if s.payments != nil && t.PaymentRef != "" {
		if err := s.payments.Cancel(ctx, t.PaymentRef); err != nil {
			s.logger.Warn("payment release failed", "trip_id", tripID, "error", err)
		}
	}
	s.publish(ctx, event.TripCancelled, map[string]any{
		"trip_id":      t.ID,
		"rider_id":     t.RiderID,
		"cancelled_by": actor,
		"reason":       reason,
	})
	return nil
}

// Expire marks a matching trip whose search was exhausted, matching→expired.
func (s *Service) Expire(ctx context.Context, tripID string) error {
	t, err := s.transition(ctx, tripID, models.StatusMatching, models.StatusExpired, storage.StatusFields{})
	if err != nil {
		return err
	}
	if s.payments != nil && t.PaymentRef != "" {
		if err := s.payments.Cancel(ctx, t.PaymentRef); err != nil {
			s.logger.Warn("payment release failed", "trip_id", tripID, "error", err)
		}
	}
	s.publish(ctx, event.TripExpired, map[string]any{"trip_id": t.ID, "rider_id": t.RiderID})
	return nil
}

// Rate records a 1..5 post-trip rating. actor is rider or driver; each
// party rates once, and only completed trips can be rated.
func (s *Service) Rate(ctx context.Context, tripID, actor string, rating int) error {
	if rating < 1 || rating > 5 {
		return &BusinessRuleViolation{Reason: "rating must be between 1 and 5"}
	}
	t, err := s.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.Status != models.StatusCompleted {
		return &BusinessRuleViolation{Reason: "only completed trips can be rated"}
	}
	var riderRating, driverRating *int
	switch actor {
	case "rider":
		if t.RiderRating != 0 {
			return &BusinessRuleViolation{Reason: "trip already rated"}
		}
		riderRating = &rating
	case "driver":
		if t.DriverRating != 0 {
			return &BusinessRuleViolation{Reason: "trip already rated"}
		}
		driverRating = &rating
	default:
		return &BusinessRuleViolation{Reason: "actor must be rider or driver"}
	}
	ok, err := s.store.SetRatings(ctx, tripID, riderRating, driverRating)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStatusConflict
	}
	return nil
}

func (s *Service) Get(ctx context.Context, tripID string) (*models.Trip, error) {
	t, err := s.store.Get(ctx, tripID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

// transition validates against the state machine, then applies the change
// as one conditional write. A lost race surfaces as ErrStatusConflict.
func (s *Service) transition(ctx context.Context, tripID string, from, to models.TripStatus, fields storage.StatusFields) (*models.Trip, error) {
	t, err := s.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != from {
		return nil, &ValidationError{TripID: tripID, From: t.Status, To: to}
	}
	if !CanTransition(from, to) {
		return nil, &ValidationError{TripID: tripID, From: from, To: to}
	}
	ok, err := s.store.ConditionalUpdateStatus(ctx, tripID, from, to, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStatusConflict
	}
	observability.TripTransitions.WithLabelValues(string(to)).Inc()
	return t, nil
}

// publish is best-effort: a failed publish is logged and never unwinds the
// transition that produced it.
func (s *Service) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event.New(eventType, payload)); err != nil {
		s.logger.Error("event publish failed", "event_type", eventType, "error", err)
	}
}
