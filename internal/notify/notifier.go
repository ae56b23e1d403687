package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/trip-dispatch/internal/event"
)

// Notifier fans domain events out to riders and drivers: WebSocket first,
// push webhook as fallback. Delivery is best-effort; the dispatch core
// never depends on it.
type Notifier struct {
	ws     *WSRegistry
	push   *PushClient // optional
	logger *slog.Logger
}

func NewNotifier(ws *WSRegistry, push *PushClient, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{ws: ws, push: push, logger: logger}
}

// Start subscribes to the events users need to hear about. Handlers are
// deduped by event id so a redelivered event does not ping twice.
func (n *Notifier) Start(bus event.Bus) error {
	for _, et := range []string{
		event.OfferCreated,
		event.TripAccepted,
		event.TripDriverArrived,
		event.TripExpired,
		event.TripCancelled,
	} {
		if err := bus.Subscribe(et, event.Deduped(n.handle)); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) handle(_ context.Context, e *event.Event) error {
	msg := map[string]any{"type": e.Type, "data": e.Payload}

	if driverID, ok := e.Payload["driver_id"].(string); ok && driverID != "" {
		n.deliver(driverID, msg)
	}
	// riders hear about everything except the driver-facing offer
	if e.Type != event.OfferCreated {
		if riderID, ok := e.Payload["rider_id"].(string); ok && riderID != "" {
			n.deliver(riderID, msg)
		}
	}
	return nil
}

func (n *Notifier) deliver(userID string, msg map[string]any) {
	err := n.ws.Send(userID, msg)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrNoSession) {
		n.logger.Warn("ws send failed", "user_id", userID, "error", err)
	}
	if n.push == nil {
		return
	}
	if err := n.push.Send(userID, msg); err != nil {
		n.logger.Warn("push send failed", "user_id", userID, "error", err)
	}
}
