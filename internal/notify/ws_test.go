package notify

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/trip-dispatch/internal/observability"
)

func sessionGauge() float64 { return testutil.ToFloat64(observability.DriversOnline) }

func TestRegistryTracksSessionGauge(t *testing.T) {
	r := NewWSRegistry()
	base := sessionGauge()

	r.Add("d1", nil)
	r.Add("d2", nil)
	if got := sessionGauge() - base; got != 2 {
		t.Fatalf("expected 2 sessions, gauge delta %f", got)
	}

	// reconnecting replaces, it does not double-count
	r.Add("d1", nil)
	if got := sessionGauge() - base; got != 2 {
		t.Fatalf("replacement changed the count, gauge delta %f", got)
	}

	r.Remove("d1")
	if got := sessionGauge() - base; got != 1 {
		t.Fatalf("expected 1 session after remove, gauge delta %f", got)
	}
	r.Remove("never-connected")
	if got := sessionGauge() - base; got != 1 {
		t.Fatalf("removing an unknown driver changed the gauge, delta %f", got)
	}
	r.Remove("d2")
	if got := sessionGauge() - base; got != 0 {
		t.Fatalf("expected empty registry, gauge delta %f", got)
	}
}

func TestSendWithoutSession(t *testing.T) {
	r := NewWSRegistry()
	if err := r.Send("d1", "hello"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
