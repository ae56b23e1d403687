package matcher

import (
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

func pendingOffer(tripID, driverID string) models.Offer {
	now := time.Now().UTC()
	return models.Offer{
		ID:        "o-" + tripID + "-" + driverID,
		TripID:    tripID,
		DriverID:  driverID,
		Status:    models.OfferPending,
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Second),
	}
}

func TestCreateClaimsBothSlots(t *testing.T) {
	b := NewOfferBook()
	if _, err := b.Create(pendingOffer("t1", "d1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := b.Create(pendingOffer("t1", "d2")); err != ErrTripHasOffer {
		t.Fatalf("expected ErrTripHasOffer, got %v", err)
	}
	if _, err := b.Create(pendingOffer("t2", "d1")); err != ErrDriverBusy {
		t.Fatalf("expected ErrDriverBusy, got %v", err)
	}

	// the original offer is untouched by the failed attempts
	got, ok := b.ForDriver("d1")
	if !ok || got.TripID != "t1" || got.Status != models.OfferPending {
		t.Fatalf("existing offer mutated: %+v ok=%v", got, ok)
	}
}

func TestRespondDeliversDecision(t *testing.T) {
	b := NewOfferBook()
	resp, err := b.Create(pendingOffer("t1", "d1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !b.Respond("t1", "d1", true) {
		t.Fatalf("matching response must be delivered")
	}
	select {
	case accepted := <-resp:
		if !accepted {
			t.Fatalf("expected accepted=true")
		}
	default:
		t.Fatalf("decision not buffered on the channel")
	}
	got, _ := b.ForTrip("t1")
	if got.Status != models.OfferAccepted {
		t.Fatalf("offer status not updated: %s", got.Status)
	}
}

func TestRespondStaleIsNoOp(t *testing.T) {
	b := NewOfferBook()
	resp, err := b.Create(pendingOffer("t1", "d1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if b.Respond("t1", "d2", true) {
		t.Fatalf("wrong driver must not be delivered")
	}
	if b.Respond("t9", "d1", true) {
		t.Fatalf("unknown trip must not be delivered")
	}
	select {
	case <-resp:
		t.Fatalf("no decision should have been delivered")
	default:
	}

	if !b.Respond("t1", "d1", false) {
		t.Fatalf("first real response must be delivered")
	}
	// a duplicate after the decision is idempotent
	if b.Respond("t1", "d1", true) {
		t.Fatalf("duplicate response must be a no-op")
	}
	if accepted := <-resp; accepted {
		t.Fatalf("first decision (rejected) must win")
	}
}

func TestClearReleasesBothSlots(t *testing.T) {
	b := NewOfferBook()
	if _, err := b.Create(pendingOffer("t1", "d1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	b.Clear("t1")

	if _, ok := b.ForTrip("t1"); ok {
		t.Fatalf("trip slot still held after clear")
	}
	if _, ok := b.ForDriver("d1"); ok {
		t.Fatalf("driver slot still held after clear")
	}
	// both may be claimed again
	if _, err := b.Create(pendingOffer("t1", "d1")); err != nil {
		t.Fatalf("re-create after clear: %v", err)
	}
	b.Clear("unknown") // no-op
}
