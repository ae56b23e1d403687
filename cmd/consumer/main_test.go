package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-dispatch/internal/event"
	"github.com/example/trip-dispatch/internal/models"
)

type fakeUpdater struct {
	geoFails int // fail the first N GeoAdd calls
	geoCalls int
	hsetErr  error
	locs     []*redis.GeoLocation
	metaKeys []string
	meta     map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(_ context.Context, _ string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.geoFails {
		return errors.New("connection refused")
	}
	f.locs = append(f.locs, loc)
	return nil
}

func (f *fakeUpdater) HSet(_ context.Context, key string, values map[string]interface{}) error {
	if f.hsetErr != nil {
		return f.hsetErr
	}
	f.metaKeys = append(f.metaKeys, key)
	f.meta = values
	return nil
}

func TestUpdateRedisWithRetrySucceedsAfterTransientError(t *testing.T) {
	f := &fakeUpdater{geoFails: 2}
	d := &models.Driver{ID: "d1", Loc: models.Coord{Lat: 52.52, Lon: 13.405}, Rating: 4.8, Online: true}

	err := updateRedisWithRetry(context.Background(), f, "drivers:geo", d, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("expected recovery within the retry budget, got %v", err)
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected 3 GeoAdd attempts, got %d", f.geoCalls)
	}
	if len(f.locs) != 1 || f.locs[0].Name != "d1" {
		t.Fatalf("location not written: %+v", f.locs)
	}
	if len(f.metaKeys) != 1 || f.metaKeys[0] != "driver:meta:d1" {
		t.Fatalf("meta hash not written: %v", f.metaKeys)
	}
}

// The candidate query filters on the literal string "true", so the meta
// hash must be written with string values, never raw Go types.
func TestMetaHashWrittenAsStrings(t *testing.T) {
	f := &fakeUpdater{}
	online := &models.Driver{ID: "d1", Loc: models.Coord{Lat: 52.52, Lon: 13.405}, Rating: 4.8, Online: true}
	if err := updateRedisWithRetry(context.Background(), f, "drivers:geo", online, 1, time.Millisecond); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, ok := f.meta["online"].(string); !ok || got != "true" {
		t.Fatalf("online must be the string %q, got %#v", "true", f.meta["online"])
	}
	if _, ok := f.meta["rating"].(string); !ok {
		t.Fatalf("rating must be a string, got %#v", f.meta["rating"])
	}

	offline := &models.Driver{ID: "d2", Loc: models.Coord{Lat: 52.52, Lon: 13.405}, Online: false}
	if err := updateRedisWithRetry(context.Background(), f, "drivers:geo", offline, 1, time.Millisecond); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, _ := f.meta["online"].(string); got != "false" {
		t.Fatalf("offline driver must write %q, got %#v", "false", f.meta["online"])
	}
}

func TestUpdateRedisWithRetryExhaustsAttempts(t *testing.T) {
	f := &fakeUpdater{geoFails: 10}
	d := &models.Driver{ID: "d1", Loc: models.Coord{Lat: 52.52, Lon: 13.405}}

	err := updateRedisWithRetry(context.Background(), f, "drivers:geo", d, 3, time.Millisecond)
	if err == nil {
		t.Fatalf("expected the final attempt's error")
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.geoCalls)
	}
}

func TestUpdateRedisWithRetryHSetFailure(t *testing.T) {
	f := &fakeUpdater{hsetErr: errors.New("oom")}
	d := &models.Driver{ID: "d1", Loc: models.Coord{Lat: 52.52, Lon: 13.405}}

	err := updateRedisWithRetry(context.Background(), f, "drivers:geo", d, 2, time.Millisecond)
	if err == nil {
		t.Fatalf("expected HSet failure to surface")
	}
}

func TestDriverFromEvent(t *testing.T) {
	e := event.New(event.DriverLocation, map[string]any{
		"driver_id": "d1",
		"lat":       52.52,
		"lon":       13.405,
		"rating":    4.7,
	})
	body, err := e.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	d, ok := driverFromEvent(body)
	if !ok {
		t.Fatalf("valid event rejected")
	}
	if d.ID != "d1" || d.Loc.Lat != 52.52 || d.Loc.Lon != 13.405 || d.Rating != 4.7 {
		t.Fatalf("fields not mapped: %+v", d)
	}
	if !d.Online {
		t.Fatalf("online must default to true")
	}
}

func TestDriverFromEventOfflineFlag(t *testing.T) {
	e := event.New(event.DriverLocation, map[string]any{
		"driver_id": "d1",
		"lat":       52.52,
		"lon":       13.405,
		"online":    false,
	})
	body, _ := e.Marshal()
	d, ok := driverFromEvent(body)
	if !ok {
		t.Fatalf("valid event rejected")
	}
	if d.Online {
		t.Fatalf("explicit online=false ignored")
	}
}

func TestDriverFromEventInvalid(t *testing.T) {
	cases := map[string][]byte{
		"not json":       []byte("::"),
		"missing driver": mustMarshal(t, event.New(event.DriverLocation, map[string]any{"lat": 1.0, "lon": 2.0})),
		"missing coords": mustMarshal(t, event.New(event.DriverLocation, map[string]any{"driver_id": "d1"})),
	}
	for name, body := range cases {
		if _, ok := driverFromEvent(body); ok {
			t.Fatalf("%s: invalid event accepted", name)
		}
	}
}

func mustMarshal(t *testing.T, e *event.Event) []byte {
	t.Helper()
	b, err := e.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
