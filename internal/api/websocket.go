package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Event types carried on the stream.
const (
	EventSourceIngested = "source_ingested"
	EventAuditMismatch  = "audit_mismatch"
)

// StreamEvent is the envelope every stream subscriber receives. Seq is a
// hub-wide monotonic counter so a client can detect events dropped while it
// was slow.
type StreamEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

const (
	subscriberQueue = 64
	writeDeadline   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboards
	},
}

// Hub fans ingestion and audit events out to websocket subscribers. Each
// subscriber owns a buffered queue drained by its own writer goroutine, so
// one stalled client drops its own events instead of blocking the ingest
// path or the other subscribers.
type Hub struct {
	mu          sync.Mutex
	nextSeq     int64
	subscribers map[*subscriber]bool
}

type subscriber struct {
	conn  *websocket.Conn
	queue chan StreamEvent
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]bool)}
}

// Publish stamps and delivers one event to every subscriber. Non-blocking:
// a subscriber with a full queue misses the event and sees the gap in Seq.
func (h *Hub) Publish(eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	ev := StreamEvent{
		Seq:       h.nextSeq,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	for sub := range h.subscribers {
		select {
		case sub.queue <- ev:
		default:
			log.Printf("[Stream] Subscriber backlogged, dropping event seq %d", ev.Seq)
		}
	}
}

// Subscribe upgrades the connection and attaches it to the hub.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Stream] Upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn, queue: make(chan StreamEvent, subscriberQueue)}
	h.mu.Lock()
	h.subscribers[sub] = true
	total := len(h.subscribers)
	h.mu.Unlock()
	log.Printf("[Stream] Subscriber connected (%d total)", total)

	go sub.writePump(h)
	go sub.readPump(h)
}

func (h *Hub) detach(sub *subscriber) {
	h.mu.Lock()
	if h.subscribers[sub] {
		delete(h.subscribers, sub)
		close(sub.queue)
	}
	total := len(h.subscribers)
	h.mu.Unlock()
	sub.conn.Close()
	log.Printf("[Stream] Subscriber disconnected (%d remaining)", total)
}

// writePump drains the subscriber's queue onto the wire.
func (s *subscriber) writePump(h *Hub) {
	for ev := range s.queue {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := s.conn.WriteJSON(ev); err != nil {
			log.Printf("[Stream] Write failed: %v", err)
			h.detach(s)
			return
		}
	}
}

// readPump discards inbound frames; the stream is push-only, but reading is
// what surfaces disconnects.
func (s *subscriber) readPump(h *Hub) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Stream] Read error: %v", err)
			}
			h.detach(s)
			return
		}
	}
}
