package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TripStatus is the lifecycle state of a trip. Transitions between
// statuses are validated by the trip package's state machine.
type TripStatus string

const (
	StatusPending       TripStatus = "pending"
	StatusMatching      TripStatus = "matching"
	StatusAccepted      TripStatus = "accepted"
	StatusDriverArrived TripStatus = "driver_arrived"
	StatusInProgress    TripStatus = "in_progress"
	StatusCompleted     TripStatus = "completed"
	StatusCancelled     TripStatus = "cancelled"
	StatusExpired       TripStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s TripStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

type Trip struct {
	ID             string     `json:"id"`
	RiderID        string     `json:"rider_id"`
	DriverID       string     `json:"driver_id,omitempty"` // empty until a driver accepts
	Pickup         Coord      `json:"pickup"`
	PickupAddress  string     `json:"pickup_address,omitempty"`
	Dropoff        Coord      `json:"dropoff"`
	DropoffAddress string     `json:"dropoff_address,omitempty"`
	Status         TripStatus `json:"status"`
	EstimatedFare  float64    `json:"estimated_fare"`
	FinalFare      float64    `json:"final_fare,omitempty"`
	Surge          float64    `json:"surge_multiplier"`
	PaymentRef     string     `json:"-"` // provider hold reference, not exposed
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     time.Time  `json:"accepted_at,omitempty"`
	ArrivedAt      time.Time  `json:"arrived_at,omitempty"`
	StartedAt      time.Time  `json:"started_at,omitempty"`
	CompletedAt    time.Time  `json:"completed_at,omitempty"`
	CancelledAt    time.Time  `json:"cancelled_at,omitempty"`
	CancelledBy    string     `json:"cancelled_by,omitempty"` // rider, driver, system
	CancelReason   string     `json:"cancel_reason,omitempty"`
	RiderRating    int        `json:"rider_rating,omitempty"`
	DriverRating   int        `json:"driver_rating,omitempty"`
}

// TripRequest is the rider-facing payload to create a trip.
type TripRequest struct {
	RiderID        string  `json:"rider_id"`
	Pickup         Coord   `json:"pickup"`
	PickupAddress  string  `json:"pickup_address,omitempty"`
	Dropoff        Coord   `json:"dropoff"`
	DropoffAddress string  `json:"dropoff_address,omitempty"`
	Surge          float64 `json:"surge_multiplier,omitempty"`
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
	OfferExpired  OfferStatus = "expired"
)

// Offer is a time-boxed proposal of one trip to one driver. Offers are
// ephemeral: they live in the matcher's offer book, never in the database.
type Offer struct {
	ID         string      `json:"offer_id"`
	TripID     string      `json:"trip_id"`
	DriverID   string      `json:"driver_id"`
	DistanceKm float64     `json:"distance_km"`
	FareAmount float64     `json:"fare_amount"`
	ETASeconds float64     `json:"eta_seconds,omitempty"`
	Status     OfferStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// DriverCandidate is a read-only projection from the geo index.
type DriverCandidate struct {
	DriverID   string  `json:"driver_id"`
	DistanceKm float64 `json:"distance_km"`
}

// Driver is the location/metadata record flowing through the ingest
// pipeline into the geo index.
type Driver struct {
	ID      string    `json:"id"`
	Loc     Coord     `json:"loc"`
	Rating  float64   `json:"rating"` // 0..5
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}
