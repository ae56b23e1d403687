package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

// ErrNotFound is returned when a trip id is unknown.
var ErrNotFound = errors.New("trip not found")

// StatusFields is the fixed allow-list of columns a status transition may
// touch besides the status itself. Nil fields are left untouched. Keeping
// this closed prevents any dynamically assembled SQL.
type StatusFields struct {
	DriverID     *string
	FinalFare    *float64
	CancelledBy  *string
	CancelReason *string
	AcceptedAt   *time.Time
	ArrivedAt    *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
}

// TripStore is the persistence contract for trips. ConditionalUpdateStatus
// must be a single atomic compare-and-set on the status column: it reports
// false (with no mutation) when the trip is absent or its status is not
// the expected one, which is what lets two concurrent accepts resolve to
// exactly one winner.
type TripStore interface {
	Create(ctx context.Context, t *models.Trip) error
	Get(ctx context.Context, id string) (*models.Trip, error)
	ConditionalUpdateStatus(ctx context.Context, id string, expected, next models.TripStatus, fields StatusFields) (bool, error)
	SetRatings(ctx context.Context, id string, riderRating, driverRating *int) (bool, error)
	ActiveTripForRider(ctx context.Context, riderID string) (*models.Trip, error)
}

// activeStatuses are the statuses that block a rider from opening a second trip.
var activeStatuses = []models.TripStatus{
	models.StatusPending, models.StatusMatching, models.StatusAccepted,
	models.StatusDriverArrived, models.StatusInProgress,
}

// MemoryStore is the in-process TripStore used for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	trips map[string]*models.Trip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[string]*models.Trip)}
}

func (m *MemoryStore) Create(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ConditionalUpdateStatus(_ context.Context, id string, expected, next models.TripStatus, fields StatusFields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != expected {
		return false, nil
	}
	t.Status = next
	applyFields(t, fields)
	return true, nil
}

func (m *MemoryStore) SetRatings(_ context.Context, id string, riderRating, driverRating *int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != models.StatusCompleted {
		return false, nil
	}
	if riderRating != nil {
		t.RiderRating = *riderRating
	}
	if driverRating != nil {
		t.DriverRating = *driverRating
	}
	return true, nil
}

func (m *MemoryStore) ActiveTripForRider(_ context.Context, riderID string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.RiderID != riderID {
			continue
		}
		for _, s := range activeStatuses {
			if t.Status == s {
				cp := *t
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func applyFields(t *models.Trip, f StatusFields) {
	if f.DriverID != nil {
		t.DriverID = *f.DriverID
	}
	if f.FinalFare != nil {
		t.FinalFare = *f.FinalFare
	}
	if f.CancelledBy != nil {
		t.CancelledBy = *f.CancelledBy
	}
	if f.CancelReason != nil {
		t.CancelReason = *f.CancelReason
	}
	if f.AcceptedAt != nil {
		t.AcceptedAt = *f.AcceptedAt
	}
	if f.ArrivedAt != nil {
		t.ArrivedAt = *f.ArrivedAt
	}
	if f.StartedAt != nil {
		t.StartedAt = *f.StartedAt
	}
	if f.CompletedAt != nil {
		t.CompletedAt = *f.CompletedAt
	}
	if f.CancelledAt != nil {
		t.CancelledAt = *f.CancelledAt
	}
}
