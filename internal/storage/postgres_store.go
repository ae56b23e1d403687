package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/trip-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Create(ctx context.Context, t *models.Trip) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trips(id, rider_id, pickup_lat, pickup_lon, pickup_address,
			dropoff_lat, dropoff_lon, dropoff_address, status,
			estimated_fare, surge_multiplier, payment_ref, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.RiderID, t.Pickup.Lat, t.Pickup.Lon, t.PickupAddress,
		t.Dropoff.Lat, t.Dropoff.Lon, t.DropoffAddress, string(t.Status),
		t.EstimatedFare, t.Surge, t.PaymentRef, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, rider_id, COALESCE(driver_id,''), pickup_lat, pickup_lon, COALESCE(pickup_address,''),
			dropoff_lat, dropoff_lon, COALESCE(dropoff_address,''), status,
			estimated_fare, COALESCE(final_fare,0), surge_multiplier, COALESCE(payment_ref,''),
			created_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at,
			COALESCE(cancelled_by,''), COALESCE(cancel_reason,''),
			COALESCE(rider_rating,0), COALESCE(driver_rating,0)
		FROM trips WHERE id=$1`, id)
	return scanTrip(row)
}

// ConditionalUpdateStatus performs the status transition as one atomic
// compare-and-set. The statement is fully static: every optional column
// of the allow-list is folded in through COALESCE, so a nil field keeps
// the stored value and no SQL is ever assembled from strings.
func (p *PostgresStore) ConditionalUpdateStatus(ctx context.Context, id string, expected, next models.TripStatus, f StatusFields) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trips SET
			status        = $3,
			driver_id     = COALESCE($4, driver_id),
			final_fare    = COALESCE($5, final_fare),
			cancelled_by  = COALESCE($6, cancelled_by),
			cancel_reason = COALESCE($7, cancel_reason),
			accepted_at   = COALESCE($8, accepted_at),
			arrived_at    = COALESCE($9, arrived_at),
			started_at    = COALESCE($10, started_at),
			completed_at  = COALESCE($11, completed_at),
			cancelled_at  = COALESCE($12, cancelled_at)
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next),
		nullString(f.DriverID), nullFloat(f.FinalFare),
		nullString(f.CancelledBy), nullString(f.CancelReason),
		nullTime(f.AcceptedAt), nullTime(f.ArrivedAt), nullTime(f.StartedAt),
		nullTime(f.CompletedAt), nullTime(f.CancelledAt))
	if err != nil {
		return false, fmt.Errorf("update trip status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetRatings records post-trip ratings. The status guard keeps the update
// a no-op for anything but a completed trip; nil ratings are untouched.
func (p *PostgresStore) SetRatings(ctx context.Context, id string, riderRating, driverRating *int) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trips SET
			rider_rating  = COALESCE($3, rider_rating),
			driver_rating = COALESCE($4, driver_rating)
		WHERE id = $1 AND status = $2`,
		id, string(models.StatusCompleted), nullInt(riderRating), nullInt(driverRating))
	if err != nil {
		return false, fmt.Errorf("update trip ratings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) ActiveTripForRider(ctx context.Context, riderID string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, rider_id, COALESCE(driver_id,''), pickup_lat, pickup_lon, COALESCE(pickup_address,''),
			dropoff_lat, dropoff_lon, COALESCE(dropoff_address,''), status,
			estimated_fare, COALESCE(final_fare,0), surge_multiplier, COALESCE(payment_ref,''),
			created_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at,
			COALESCE(cancelled_by,''), COALESCE(cancel_reason,''),
			COALESCE(rider_rating,0), COALESCE(driver_rating,0)
		FROM trips
		WHERE rider_id=$1 AND status = ANY($2)
		LIMIT 1`, riderID, statusArray(activeStatuses))
	t, err := scanTrip(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func scanTrip(row *sql.Row) (*models.Trip, error) {
	var t models.Trip
	var status string
	var acceptedAt, arrivedAt, startedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(&t.ID, &t.RiderID, &t.DriverID, &t.Pickup.Lat, &t.Pickup.Lon, &t.PickupAddress,
		&t.Dropoff.Lat, &t.Dropoff.Lon, &t.DropoffAddress, &status,
		&t.EstimatedFare, &t.FinalFare, &t.Surge, &t.PaymentRef,
		&t.CreatedAt, &acceptedAt, &arrivedAt, &startedAt, &completedAt, &cancelledAt,
		&t.CancelledBy, &t.CancelReason, &t.RiderRating, &t.DriverRating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trip: %w", err)
	}
	t.Status = models.TripStatus(status)
	t.AcceptedAt = acceptedAt.Time
	t.ArrivedAt = arrivedAt.Time
	t.StartedAt = startedAt.Time
	t.CompletedAt = completedAt.Time
	t.CancelledAt = cancelledAt.Time
	return &t, nil
}

func statusArray(ss []models.TripStatus) interface{} {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
