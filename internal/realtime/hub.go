// Package realtime streams payment state changes over WebSocket.
//
// Two kinds of stream exist:
//   - an order stream (GET /v1/payments/:reference/ws) that opens with a
//     payment_snapshot, receives payment_state events for that order, and is
//     closed by the server once the payment is final
//   - an operator stream (GET /v1/ws) that receives every payment_state event
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mbd888/paygate/internal/metrics"
	"github.com/mbd888/paygate/internal/payments"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// EventType for real-time events
type EventType string

const (
	EventSnapshot     EventType = "payment_snapshot"
	EventPaymentState EventType = "payment_state"
)

// PaymentState is the order view carried by every event.
type PaymentState struct {
	OrderReference string         `json:"orderReference"`
	State          payments.State `json:"state"`
	Amount         int64          `json:"amount"`
	ResponseCode   string         `json:"responseCode,omitempty"`
	Final          bool           `json:"final"`
}

// Event is one message written to a stream.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Payment   PaymentState `json:"payment"`
}

func newEvent(t EventType, a *payments.Attempt) *Event {
	return &Event{
		Type:      t,
		Timestamp: time.Now(),
		Payment: PaymentState{
			OrderReference: a.OrderReference,
			State:          a.State,
			Amount:         a.Amount,
			ResponseCode:   a.ResponseCode,
			Final:          a.IsTerminal(),
		},
	}
}

// SnapshotFunc loads the current attempt for an order stream. It returns
// payments.ErrAttemptNotFound for unknown references.
type SnapshotFunc func(ctx context.Context, orderReference string) (*payments.Attempt, error)

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	OrderStreams     int   `json:"orderStreams"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	order string // empty for operator streams
}

type directMessage struct {
	client *client
	event  *Event
}

// Hub fans payment events out to connected streams. All client bookkeeping
// happens on the Run goroutine; mu only guards reads from other goroutines.
type Hub struct {
	mu        sync.RWMutex
	operators map[*client]struct{}
	orders    map[string]map[*client]struct{}
	count     int

	broadcast  chan *Event
	direct     chan directMessage
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run exits

	snapshot   SnapshotFunc
	origins    map[string]bool
	upgrader   websocket.Upgrader
	maxClients int
	logger     *slog.Logger

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		operators:  make(map[*client]struct{}),
		orders:     make(map[string]map[*client]struct{}),
		broadcast:  make(chan *Event, 256),
		direct:     make(chan directMessage, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		origins:    map[string]bool{},
		maxClients: MaxClients,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// WithSnapshot sets the loader used to open order streams.
func (h *Hub) WithSnapshot(fn SnapshotFunc) *Hub {
	h.snapshot = fn
	return h
}

// WithAllowedOrigins admits browser origins besides the serving host.
func (h *Hub) WithAllowedOrigins(origins []string) *Hub {
	for _, o := range origins {
		h.origins[o] = true
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	if h.origins[origin] || h.origins["*"] {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Run owns the client sets until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.operators {
				close(c.send)
			}
			for _, set := range h.orders {
				for c := range set {
					close(c.send)
				}
			}
			h.operators = make(map[*client]struct{})
			h.orders = make(map[string]map[*client]struct{})
			h.count = 0
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			n := h.count
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case ev := <-h.broadcast:
			h.deliver(ev)

		case m := <-h.direct:
			h.deliverTo(m.client, m.event)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	if c.order == "" {
		h.operators[c] = struct{}{}
	} else {
		set := h.orders[c.order]
		if set == nil {
			set = make(map[*client]struct{})
			h.orders[c.order] = set
		}
		set[c] = struct{}{}
	}
	h.count++
	n := h.count
	h.mu.Unlock()

	h.totalClients.Add(1)
	if int64(n) > h.peakClients.Load() {
		h.peakClients.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("client connected", "order", c.order, "total", n)
}

// drop removes c and closes its send channel. Caller holds mu.
func (h *Hub) drop(c *client) {
	if c.order == "" {
		if _, ok := h.operators[c]; !ok {
			return
		}
		delete(h.operators, c)
	} else {
		set := h.orders[c.order]
		if _, ok := set[c]; !ok {
			return
		}
		delete(set, c)
		if len(set) == 0 {
			delete(h.orders, c.order)
		}
	}
	close(c.send)
	h.count--
}

func trySend(c *client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) deliver(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to encode event", "error", err)
		return
	}

	h.mu.Lock()
	var done []*client
	for c := range h.operators {
		if !trySend(c, payload) {
			done = append(done, c) // slow consumer
		}
	}
	for c := range h.orders[ev.Payment.OrderReference] {
		if !trySend(c, payload) || ev.Payment.Final {
			done = append(done, c)
		}
	}
	for _, c := range done {
		h.drop(c)
	}
	n := h.count
	h.mu.Unlock()

	if len(done) > 0 {
		metrics.ActiveWebSocketClients.Set(float64(n))
	}
}

func (h *Hub) deliverTo(c *client, ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.orders[c.order][c]; !ok {
		return // already closed by a final state event
	}
	if !trySend(c, payload) || ev.Payment.Final {
		h.drop(c)
	}
}

// Broadcast queues ev for every matching stream. It never blocks.
func (h *Hub) Broadcast(ev *Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"orderReference", ev.Payment.OrderReference)
	}
}

// PaymentStateChanged implements payments.Notifier.
func (h *Hub) PaymentStateChanged(a *payments.Attempt) {
	h.Broadcast(newEvent(EventPaymentState, a))
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		ConnectedClients: h.count,
		OrderStreams:     len(h.orders),
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
	}
}

// HandleWebSocket opens an operator stream receiving every order's events.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// HandleOrderStream handles GET /v1/payments/:reference/ws.
func (h *Hub) HandleOrderStream(c *gin.Context) {
	ref := c.Param("reference")
	if h.snapshot != nil {
		if _, err := h.snapshot(c.Request.Context(), ref); err != nil {
			if errors.Is(err, payments.ErrAttemptNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "not_found",
					"message": "Payment not found",
				})
				return
			}
			h.logger.Error("order stream snapshot failed", "orderReference", ref, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load payment",
			})
			return
		}
	}
	h.serve(c.Writer, c.Request, ref)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, order string) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := h.count
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), order: order}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)

	// The snapshot is read after registration so a transition racing the
	// connect is seen either here or as a payment_state event.
	if order != "" && h.snapshot != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a, err := h.snapshot(ctx, order)
		cancel()
		if err != nil {
			h.logger.Warn("order stream snapshot failed", "orderReference", order, "error", err)
			return
		}
		select {
		case h.direct <- directMessage{client: c, event: newEvent(EventSnapshot, a)}:
		case <-h.done:
		}
	}
}

// readPump discards inbound frames; it exists to process pongs and notice
// the peer going away.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump drains c.send. A closed channel ends the stream with a normal
// close frame.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ payments.Notifier = (*Hub)(nil)
