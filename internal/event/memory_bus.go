package event

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryBus is an in-process Bus used for local runs and tests. Delivery
// is synchronous within Publish, which makes test assertions deterministic;
// handlers that need concurrency spawn their own goroutines.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{handlers: make(map[string][]Handler), logger: logger}
}

func (b *MemoryBus) Subscribe(eventType string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, e *Event) error {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()
	for _, h := range hs {
		if err := h(ctx, e); err != nil {
			// a failing subscriber never fails the publisher
			b.logger.Error("event handler failed", "event_type", e.Type, "event_id", e.ID, "error", err)
		}
	}
	return nil
}
