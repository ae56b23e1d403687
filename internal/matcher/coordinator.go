package matcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/example/trip-dispatch/internal/event"
	"github.com/example/trip-dispatch/internal/models"
)

// TripFetcher loads the trip record a matching task needs.
type TripFetcher interface {
	Get(ctx context.Context, tripID string) (*models.Trip, error)
}

// Coordinator ties trip lifecycle events to matching task lifecycle: a
// matching_requested event starts a task, a cancellation stops it, and
// finished tasks remove themselves from the registry.
type Coordinator struct {
	engine *Engine
	trips  TripFetcher
	bus    event.Bus
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewCoordinator(engine *Engine, trips TripFetcher, bus event.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		engine: engine,
		trips:  trips,
		bus:    bus,
		logger: logger,
		tasks:  make(map[string]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the coordinator's subscriptions. Handlers are wrapped
// with event-id dedup because the bus may redeliver.
func (c *Coordinator) Start() error {
	if err := c.bus.Subscribe(event.TripMatchingRequested, event.Deduped(c.onMatchingRequested)); err != nil {
		return err
	}
	if err := c.bus.Subscribe(event.TripCancelled, event.Deduped(c.onTripClosed)); err != nil {
		return err
	}
	return c.bus.Subscribe(event.TripCompleted, event.Deduped(c.onTripClosed))
}

// Stop cancels every running task and waits for them to drain.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Running reports whether a matching task is registered for the trip.
func (c *Coordinator) Running(tripID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[tripID]
	return ok
}

func (c *Coordinator) onMatchingRequested(ctx context.Context, e *event.Event) error {
	tripID, _ := e.Payload["trip_id"].(string)
	if tripID == "" {
		c.logger.Warn("matching_requested without trip_id", "event_id", e.ID)
		return nil
	}
	t, err := c.trips.Get(ctx, tripID)
	if err != nil {
		return err // nack: the trip row may not be visible yet
	}
	if t.Status != models.StatusMatching {
		c.logger.Info("skipping stale matching request", "trip_id", tripID, "status", t.Status)
		return nil
	}
	c.startTask(t)
	return nil
}

func (c *Coordinator) startTask(t *models.Trip) {
	c.mu.Lock()
	if _, ok := c.tasks[t.ID]; ok {
		c.mu.Unlock()
		return // already matching this trip
	}
	taskCtx, cancel := context.WithCancel(c.ctx)
	c.tasks[t.ID] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.removeTask(t.ID)
		if err := c.engine.Run(taskCtx, t); err != nil && taskCtx.Err() == nil {
			c.logger.Error("matching task failed", "trip_id", t.ID, "error", err)
		}
	}()
}

// onTripClosed cancels the trip's matching task if one is still running.
// Cancelling twice, or cancelling a trip with no task, is a no-op.
func (c *Coordinator) onTripClosed(_ context.Context, e *event.Event) error {
	tripID, _ := e.Payload["trip_id"].(string)
	if tripID == "" {
		return nil
	}
	c.mu.Lock()
	cancel, ok := c.tasks[tripID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	return nil
}

func (c *Coordinator) removeTask(tripID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.tasks[tripID]; ok {
		cancel()
		delete(c.tasks, tripID)
	}
}
