package trip

import (
	"errors"
	"fmt"

	"github.com/example/trip-dispatch/internal/models"
)

// ErrNotFound mirrors storage.ErrNotFound at the service boundary.
var ErrNotFound = errors.New("trip not found")

// ErrStatusConflict means the conditional update lost a race: the trip
// moved to another status between validation and write. The caller's
// transition did not happen.
var ErrStatusConflict = errors.New("trip status changed concurrently")

// ValidationError reports an attempted transition that the state machine
// forbids. Nothing was mutated.
type ValidationError struct {
	TripID string
	From   models.TripStatus
	To     models.TripStatus
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for trip %s", e.From, e.To, e.TripID)
}

// BusinessRuleViolation reports a domain rule rejection with a reason a
// rider or driver can be shown directly.
type BusinessRuleViolation struct {
	Reason string
}

func (e *BusinessRuleViolation) Error() string { return e.Reason }
