package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

// CandidateSource is the query contract the matcher depends on. Results
// are sorted ascending by distance and capped at limit.
type CandidateSource interface {
	Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]models.DriverCandidate, error)
}

// Index is an in-memory candidate source for local runs and tests.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) Remove(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
}

// naive scan; in prod the Redis GEO adapter carries the load
func (g *Index) Nearby(_ context.Context, lat, lon, radiusKm float64, limit int) ([]models.DriverCandidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		distKm := Haversine(lat, lon, d.Loc.Lat, d.Loc.Lon) / 1000.0
		if distKm > radiusKm {
			continue
		}
		arr = append(arr, pair{d.ID, distKm})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.DriverCandidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.DriverCandidate{DriverID: arr[i].id, DistanceKm: round2(arr[i].dist)})
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
