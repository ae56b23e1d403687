package matcher

import (
	"errors"
	"sync"

	"github.com/example/trip-dispatch/internal/models"
)

// ErrDriverBusy means the driver already holds a pending offer for another
// trip. The existing offer is left untouched.
var ErrDriverBusy = errors.New("driver already has a pending offer")

// ErrTripHasOffer means a pending offer already exists for the trip.
var ErrTripHasOffer = errors.New("trip already has a pending offer")

// activeOffer pairs the offer record with the channel its owning task
// waits on. The channel is buffered so a response never blocks the caller.
type activeOffer struct {
	offer models.Offer
	resp  chan bool
}

// OfferBook tracks the single pending offer per trip and per driver. Both
// slots are claimed atomically under one lock, which is what enforces the
// one-pending-offer invariants.
type OfferBook struct {
	mu       sync.Mutex
	byTrip   map[string]*activeOffer
	byDriver map[string]*activeOffer
}

func NewOfferBook() *OfferBook {
	return &OfferBook{
		byTrip:   make(map[string]*activeOffer),
		byDriver: make(map[string]*activeOffer),
	}
}

// Create claims both slots for the offer, failing without side effects if
// either is occupied. The returned channel receives the driver's decision.
func (b *OfferBook) Create(o models.Offer) (<-chan bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byDriver[o.DriverID]; ok {
		return nil, ErrDriverBusy
	}
	if _, ok := b.byTrip[o.TripID]; ok {
		return nil, ErrTripHasOffer
	}
	ao := &activeOffer{offer: o, resp: make(chan bool, 1)}
	b.byTrip[o.TripID] = ao
	b.byDriver[o.DriverID] = ao
	return ao.resp, nil
}

// Respond delivers a driver's decision for the given trip. A response that
// does not match the currently active offer (stale, duplicate, or wrong
// driver) is an idempotent no-op and reports false.
func (b *OfferBook) Respond(tripID, driverID string, accepted bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ao, ok := b.byTrip[tripID]
	if !ok || ao.offer.DriverID != driverID || ao.offer.Status != models.OfferPending {
		return false
	}
	if accepted {
		ao.offer.Status = models.OfferAccepted
	} else {
		ao.offer.Status = models.OfferRejected
	}
	select {
	case ao.resp <- accepted:
	default: // decision already delivered
	}
	return true
}

// Clear releases both slots for the trip's active offer, if any. It is the
// task's responsibility to call this on every exit path so a cancelled
// task never leaves a driver holding a phantom offer.
func (b *OfferBook) Clear(tripID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ao, ok := b.byTrip[tripID]
	if !ok {
		return
	}
	delete(b.byTrip, tripID)
	delete(b.byDriver, ao.offer.DriverID)
}

// ForTrip returns a copy of the trip's pending offer.
func (b *OfferBook) ForTrip(tripID string) (models.Offer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ao, ok := b.byTrip[tripID]; ok {
		return ao.offer, true
	}
	return models.Offer{}, false
}

// ForDriver returns a copy of the driver's pending offer.
func (b *OfferBook) ForDriver(driverID string) (models.Offer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ao, ok := b.byDriver[driverID]; ok {
		return ao.offer, true
	}
	return models.Offer{}, false
}
