package notify

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/trip-dispatch/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

// WSSession represents a connected driver app session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *WSSession) close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// WSRegistry holds driver sessions keyed by driver id. The drivers_online
// gauge tracks the number of live sessions.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		old.close()
	}
	r.sessions[driverID] = &WSSession{conn: conn}
	observability.DriversOnline.Set(float64(len(r.sessions)))
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok {
		s.close()
		delete(r.sessions, driverID)
		observability.DriversOnline.Set(float64(len(r.sessions)))
	}
}

// Drop removes the session only if it still owns the given connection, so
// a read pump noticing its replaced connection die does not evict the
// driver's fresh session.
func (r *WSRegistry) Drop(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[driverID]
	if !ok || s.conn != conn {
		return
	}
	s.close()
	delete(r.sessions, driverID)
	observability.DriversOnline.Set(float64(len(r.sessions)))
}

// Send writes the payload to the driver's session, if connected.
func (r *WSRegistry) Send(driverID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(v)
}
