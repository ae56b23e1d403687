package trip

import "github.com/example/trip-dispatch/internal/models"

// transitions is the full valid-transition table. Anything absent here is
// rejected before the store is touched.
var transitions = map[models.TripStatus][]models.TripStatus{
	models.StatusPending:       {models.StatusMatching, models.StatusCancelled},
	models.StatusMatching:      {models.StatusAccepted, models.StatusCancelled, models.StatusExpired},
	models.StatusAccepted:      {models.StatusDriverArrived, models.StatusCancelled},
	models.StatusDriverArrived: {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:    {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:     {},
	models.StatusCancelled:     {},
	models.StatusExpired:       {},
}

// CanTransition reports whether from→to is a valid lifecycle step.
func CanTransition(from, to models.TripStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
