package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/event"
	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/matcher"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/notify"
	"github.com/example/trip-dispatch/internal/storage"
	"github.com/example/trip-dispatch/internal/trip"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, *matcher.OfferBook) {
	t.Helper()
	store := storage.NewMemoryStore()
	bus := event.NewMemoryBus(nil)
	trips := trip.NewService(store, bus, nil, nil, "EUR", nil)
	book := matcher.NewOfferBook()
	idx := geo.NewIndex()
	cfg := config.MatchingConfig{
		MinRadiusKm: 1, MaxRadiusKm: 10, RadiusStepKm: 1,
		MaxCandidates: 10, MaxRetries: 3,
		RetryBackoff: time.Millisecond, OfferTimeout: time.Minute,
	}
	eng := matcher.NewEngine(idx, trips, bus, book, cfg, nil)
	return NewServer(trips, eng, idx, bus, notify.NewWSRegistry(), nil), store, book
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func TestCreateTripEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := doJSON(t, srv, "POST", "/api/v1/trips", models.TripRequest{
		RiderID: "r1",
		Pickup:  models.Coord{Lat: 52.52, Lon: 13.405},
		Dropoff: models.Coord{Lat: 52.50, Lon: 13.42},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var got models.Trip
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID == "" || got.Status != models.StatusMatching {
		t.Fatalf("unexpected trip: %+v", got)
	}
}

func TestCreateTripRejectsBadBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/v1/trips", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateTripDuplicateRider(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := models.TripRequest{RiderID: "r1", Pickup: models.Coord{Lat: 1}, Dropoff: models.Coord{Lat: 2}}
	if rr := doJSON(t, srv, "POST", "/api/v1/trips", req); rr.Code != http.StatusCreated {
		t.Fatalf("first create: %d", rr.Code)
	}
	rr := doJSON(t, srv, "POST", "/api/v1/trips", req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for duplicate rider, got %d", rr.Code)
	}
}

func TestGetTripNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/trips/nope", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.Create(context.Background(), &models.Trip{ID: "t1", RiderID: "r1", Status: models.StatusPending})

	rr := doJSON(t, srv, "POST", "/api/v1/trips/t1/complete", map[string]float64{"final_fare": 9})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCancelEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.Create(context.Background(), &models.Trip{ID: "t1", RiderID: "r1", Status: models.StatusMatching})

	rr := doJSON(t, srv, "POST", "/api/v1/trips/t1/cancel", map[string]string{"reason": "waited too long"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got, _ := store.Get(context.Background(), "t1")
	if got.Status != models.StatusCancelled || got.CancelledBy != "rider" {
		t.Fatalf("cancel not applied: %+v", got)
	}
}

func TestOfferRespondStaleIsOKNoOp(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := doJSON(t, srv, "POST", "/api/v1/offers/respond", map[string]any{
		"trip_id": "t1", "driver_id": "d1", "accepted": true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("stale response must be 200, got %d", rr.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["delivered"] {
		t.Fatalf("stale response must not be delivered")
	}
}

func TestOfferRespondRequiresIDs(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := doJSON(t, srv, "POST", "/api/v1/offers/respond", map[string]any{"accepted": true})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDriverOfferEndpoint(t *testing.T) {
	srv, _, book := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/drivers/d1/offer", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without an offer, got %d", rr.Code)
	}

	now := time.Now().UTC()
	if _, err := book.Create(models.Offer{
		ID: "o1", TripID: "t1", DriverID: "d1",
		Status: models.OfferPending, CreatedAt: now, ExpiresAt: now.Add(30 * time.Second),
	}); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/drivers/d1/offer", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var offer models.Offer
	if err := json.Unmarshal(rr.Body.Bytes(), &offer); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if offer.ID != "o1" || offer.TripID != "t1" {
		t.Fatalf("wrong offer returned: %+v", offer)
	}
}

func TestDriverLocationEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := doJSON(t, srv, "POST", "/internal/driver/locations", models.Driver{
		ID:  "d1",
		Loc: models.Coord{Lat: 52.52, Lon: 13.405},
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, "POST", "/internal/driver/locations", models.Driver{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id, got %d", rr.Code)
	}
}

func TestRateEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.Create(context.Background(), &models.Trip{ID: "t1", RiderID: "r1", Status: models.StatusCompleted})

	rr := doJSON(t, srv, "POST", "/api/v1/trips/t1/rate", map[string]any{"rating": 5})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got, _ := store.Get(context.Background(), "t1")
	if got.RiderRating != 5 {
		t.Fatalf("rating not applied: %+v", got)
	}

	// riders and drivers rate independently
	rr = doJSON(t, srv, "POST", "/api/v1/trips/t1/rate", map[string]any{"actor": "driver", "rating": 4})
	if rr.Code != http.StatusOK {
		t.Fatalf("driver rating: %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, "POST", "/api/v1/trips/t1/rate", map[string]any{"rating": 9})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("out-of-range rating must be 422, got %d", rr.Code)
	}

	store.Create(context.Background(), &models.Trip{ID: "t2", RiderID: "r2", Status: models.StatusInProgress})
	rr = doJSON(t, srv, "POST", "/api/v1/trips/t2/rate", map[string]any{"rating": 5})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rating an active trip must be 422, got %d", rr.Code)
	}
}

func TestWSDisconnectReleasesSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/d1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := srv.WSReg.Send("d1", map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("send to live session: %v", err)
	}

	conn.Close()
	deadline := time.After(2 * time.Second)
	for {
		err := srv.WSReg.Send("d1", map[string]string{"type": "ping"})
		if errors.Is(err, notify.ErrNoSession) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session not released after disconnect, last err: %v", err)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
