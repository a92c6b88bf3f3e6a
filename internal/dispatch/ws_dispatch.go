package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/observability"
)

const writeWait = 5 * time.Second

// Frame is what every dashboard client receives after a roster change.
type Frame struct {
	Type  string                `json:"type"`
	Units []models.UnitSnapshot `json:"units"`
	Stats models.FleetStats     `json:"stats"`
}

// WSSession is one connected dashboard. Frames are delivered latest-wins so
// a slow client never holds up the others.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
	next chan []byte
	done chan struct{}
}

func (s *WSSession) write(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *WSSession) offer(msg []byte) {
	select {
	case s.next <- msg:
		return
	default:
	}
	select {
	case <-s.next:
	default:
	}
	select {
	case s.next <- msg:
	default:
	}
}

// Hub broadcasts the fleet roster to dashboard clients. It implements
// fleet.Renderer.
type Hub struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[*WSSession]struct{}
	latest   []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, sessions: make(map[*WSSession]struct{})}
}

func (h *Hub) Render(units []models.UnitSnapshot, stats models.FleetStats) {
	msg, err := json.Marshal(Frame{Type: "fleet", Units: units, Stats: stats})
	if err != nil {
		h.logger.Error("encode fleet frame", "err", err)
		return
	}
	h.mu.Lock()
	h.latest = msg
	for s := range h.sessions {
		s.offer(msg)
	}
	h.mu.Unlock()
}

// Serve runs a client until its connection closes. The client gets the most
// recent frame straight away.
func (h *Hub) Serve(conn *websocket.Conn) {
	s := &WSSession{conn: conn, next: make(chan []byte, 1), done: make(chan struct{})}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	if h.latest != nil {
		s.offer(h.latest)
	}
	n := len(h.sessions)
	h.mu.Unlock()
	observability.WSClients.Set(float64(n))
	h.logger.Info("dashboard client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go h.writeLoop(s)
	// reads only detect the close; clients have nothing to say
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(s)
}

func (h *Hub) writeLoop(s *WSSession) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.next:
			if err := s.write(msg); err != nil {
				h.logger.Warn("ws send error", "err", err)
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) remove(s *WSSession) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	close(s.done)
	_ = s.conn.Close()
	observability.WSClients.Set(float64(n))
	h.logger.Info("dashboard client disconnected", "clients", n)
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
