package event

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Event is the immutable envelope for every domain fact published by the
// dispatch core. The ID is generated once at construction and is the
// de-duplication key for at-least-once delivery.
type Event struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// New constructs an event with a fresh id and the current timestamp.
// The payload map is copied so later mutation by the caller cannot leak in.
func New(eventType string, payload map[string]any) *Event {
	p := make(map[string]any, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	return &Event{
		ID:        NewID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   p,
	}
}

func (e *Event) Marshal() ([]byte, error) { return json.Marshal(e) }

func Unmarshal(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// NewID returns a random 16-hex-char identifier.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Handler processes one delivered event. Transports may redeliver, so
// handlers must tolerate duplicates; wrap with Deduped for the common case.
type Handler func(ctx context.Context, e *Event) error

// Bus is the publish/subscribe contract between the dispatch components.
// Delivery is at-least-once; Publish is best-effort and never rolls back
// the state change that produced the event.
type Bus interface {
	Publish(ctx context.Context, e *Event) error
	Subscribe(eventType string, h Handler) error
}

// Event types published by the dispatch core.
const (
	TripMatchingRequested = "trip.matching_requested"
	TripAccepted          = "trip.accepted"
	TripDriverArrived     = "trip.driver_arrived"
	TripStarted           = "trip.started"
	TripCompleted         = "trip.completed"
	TripCancelled         = "trip.cancelled"
	TripExpired           = "trip.expired"
	OfferCreated          = "offer.created"
	OfferAccepted         = "offer.accepted"
	OfferRejected         = "offer.rejected"
	OfferExpired          = "offer.expired"
	DriverLocation        = "driver.location_updated"
)
