// Package mesh fans peer observations out to websocket subscribers.
package mesh

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/puppycloud/puppycloud/internal/p2p"
	"github.com/puppycloud/puppycloud/internal/ratelimit"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts every observation to all connected subscribers. Slow
// subscribers miss observations rather than stall the peer engine.
type Hub struct {
	mu   sync.Mutex
	subs map[chan p2p.Observation]struct{}
	log  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: make(map[chan p2p.Observation]struct{}),
		log:  logger.With("component", "mesh"),
	}
}

// Observe implements p2p.Observer.
func (h *Hub) Observe(o p2p.Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- o:
		default:
		}
	}
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() chan p2p.Observation {
	ch := make(chan p2p.Observation, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan p2p.Observation) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams observations as JSON until
// the client goes away. Inbound messages are ignored, but a client sending
// more than 60 per minute is disconnected.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case o := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(o); err != nil {
				h.log.Debug("websocket write error", "err", err)
				return
			}
		}
	}
}

// readLoop drains the client side so close frames are processed, and closes
// done when the connection ends.
func (h *Hub) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	limiter := ratelimit.New(60, time.Minute)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", "err", err)
			}
			return
		}
		if !limiter.Allow() {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
