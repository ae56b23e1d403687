package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-dispatch/internal/event"
	"github.com/example/trip-dispatch/internal/matcher"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/notify"
	"github.com/example/trip-dispatch/internal/trip"
)

// LocationSink receives driver location updates into the geo index.
type LocationSink interface {
	Upsert(ctx context.Context, d models.Driver) error
}

type Server struct {
	Trips  *trip.Service
	Engine *matcher.Engine
	Geo    LocationSink
	Bus    event.Bus
	WSReg  *notify.WSRegistry

	mux    *mux.Router
	logger *slog.Logger
}

func NewServer(trips *trip.Service, engine *matcher.Engine, sink LocationSink, bus event.Bus, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Trips:  trips,
		Engine: engine,
		Geo:    sink,
		Bus:    bus,
		WSReg:  wsreg,
		mux:    mux.NewRouter(),
		logger: logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/trips", s.handleCreateTrip).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}", s.handleGetTrip).Methods("GET")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/arrived", s.handleArrived).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/rate", s.handleRate).Methods("POST")
	s.mux.HandleFunc("/api/v1/offers/respond", s.handleOfferRespond).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/offer", s.handleDriverOffer).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req models.TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := s.Trips.Create(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Trips.StartMatching(r.Context(), t.ID); err != nil {
		s.logger.Error("start matching failed", "trip_id", t.ID, "error", err)
	} else {
		t.Status = models.StatusMatching
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Trips.Get(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Actor == "" {
		body.Actor = "rider"
	}
	if err := s.Trips.Cancel(r.Context(), mux.Vars(r)["trip_id"], body.Actor, body.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCancelled)})
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	if err := s.Trips.DriverArrived(r.Context(), mux.Vars(r)["trip_id"]); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusDriverArrived)})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Trips.StartRide(r.Context(), mux.Vars(r)["trip_id"]); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusInProgress)})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FinalFare float64 `json:"final_fare"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Trips.Complete(r.Context(), mux.Vars(r)["trip_id"], body.FinalFare); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCompleted)})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor  string `json:"actor"`
		Rating int    `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Actor == "" {
		body.Actor = "rider"
	}
	if err := s.Trips.Rate(r.Context(), mux.Vars(r)["trip_id"], body.Actor, body.Rating); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor": body.Actor, "rating": body.Rating})
}

func (s *Server) handleOfferRespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TripID   string `json:"trip_id"`
		DriverID string `json:"driver_id"`
		Accepted bool   `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.TripID == "" || body.DriverID == "" {
		writeError(w, http.StatusBadRequest, "trip_id and driver_id are required")
		return
	}
	// stale and duplicate responses are deliberately a 200 no-op
	delivered := s.Engine.Respond(body.TripID, body.DriverID, body.Accepted)
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

func (s *Server) handleDriverOffer(w http.ResponseWriter, r *http.Request) {
	offer, ok := s.Engine.OfferForDriver(mux.Vars(r)["driver_id"])
	if !ok {
		writeError(w, http.StatusNotFound, "no pending offer")
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if d.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	d.Online = true
	// fan out through the bus so the location consumer keeps its own copy
	if s.Bus != nil {
		e := event.New(event.DriverLocation, map[string]any{
			"driver_id": d.ID, "lat": d.Loc.Lat, "lon": d.Loc.Lon,
			"rating": d.Rating, "online": d.Online,
		})
		if err := s.Bus.Publish(r.Context(), e); err != nil {
			s.logger.Warn("location publish failed", "driver_id", d.ID, "error", err)
		}
	}
	if err := s.Geo.Upsert(r.Context(), d); err != nil {
		s.logger.Warn("geo upsert failed", "driver_id", d.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "upgrade failed")
		return
	}
	s.WSReg.Add(id, conn)

	// read pump: drain client frames until the connection dies, then
	// release the session so sends stop targeting a dead socket
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Drop(id, conn)
				return
			}
		}
	}()
}

// writeDomainError maps domain errors to HTTP statuses without ever
// leaking raw infrastructure errors across the boundary.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var brv *trip.BusinessRuleViolation
	var ve *trip.ValidationError
	switch {
	case errors.Is(err, trip.ErrNotFound):
		writeError(w, http.StatusNotFound, "trip not found")
	case errors.As(err, &brv):
		writeError(w, http.StatusUnprocessableEntity, brv.Reason)
	case errors.As(err, &ve):
		writeError(w, http.StatusConflict, ve.Error())
	case errors.Is(err, trip.ErrStatusConflict):
		writeError(w, http.StatusConflict, "trip status changed, retry")
	default:
		s.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
