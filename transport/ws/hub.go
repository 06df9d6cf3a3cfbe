// Package ws carries sync packets from an authority to its followers over
// websockets. The authority publishes through a Hub, followers read with a
// Client.
package ws

import (
	"errors"
	"log"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/akmonengine/tether/netsync"
	"github.com/gorilla/websocket"
)

var ErrHubClosed = errors.New("hub closed")

const (
	defaultBacklog = 64
	writeTimeout   = 5 * time.Second
)

type HandlerConfig struct {
	Logger *log.Logger
	// Backlog is the number of packets queued for a subscriber before it is
	// disconnected as too slow
	Backlog int
}

type subscriber struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
}

// Hub fans published packets out to every connected subscriber. A new
// subscriber first receives the latest published packet.
type Hub struct {
	logger   *log.Logger
	upgrader websocket.Upgrader
	backlog  int

	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	latest      []byte
	closed      bool
}

func NewHub(cfg HandlerConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Hub{
		logger:      logger,
		upgrader:    upgrader,
		backlog:     backlog,
		subscribers: make(map[uint64]*subscriber),
	}
}

// Handle upgrades the request and keeps the connection subscribed until the
// peer goes away. Messages sent by the peer are discarded.
func (h *Hub) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	sub, ok := h.subscribe(conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	go h.write(sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unsubscribe(sub.id)
			return
		}
	}
}

func (h *Hub) subscribe(conn *websocket.Conn) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	h.nextID++
	sub := &subscriber{
		id:   h.nextID,
		conn: conn,
		send: make(chan []byte, h.backlog),
	}
	if h.latest != nil {
		sub.send <- h.latest
	}
	h.subscribers[sub.id] = sub
	return sub, true
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id uint64) {
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(sub.send)
}

// write drains the subscriber queue. The connection is closed once the queue
// is closed or a write fails.
func (h *Hub) write(sub *subscriber) {
	defer sub.conn.Close()

	for data := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			h.logger.Printf("write to subscriber %d failed: %v", sub.id, err)
			h.unsubscribe(sub.id)
			for range sub.send {
			}
			return
		}
	}

	sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	sub.conn.WriteMessage(websocket.CloseMessage, message)
}

// Publish encodes packet and queues it for every subscriber. Subscribers
// whose queue is full are disconnected.
func (h *Hub) Publish(packet netsync.SyncPacket) error {
	data, err := netsync.Encode(packet)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.latest = data
	for id, sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			h.logger.Printf("subscriber %d is %d packets behind at frame %d, disconnecting", id, h.backlog, packet.Frame)
			h.removeLocked(id)
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber and rejects later connections
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id := range h.subscribers {
		h.removeLocked(id)
	}
}
