// Package progress streams optimizer progress to websocket clients.
//
// A Hub owns the set of connected clients. Broadcast encodes a message once
// and fans it out; clients that cannot keep up are dropped instead of
// stalling the optimizer.
package progress

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const broadcastBufferSize = 256

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub manages connected websocket clients.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	dropped atomic.Int64
	origins *OriginChecker
	log     *zap.Logger
}

// NewHub creates a Hub. Origins lists the allowed browser origins; empty or
// "*" allows all. A nil logger disables logging.
func NewHub(origins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(origins),
		log:        logger.Named("progress"),
	}
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", zap.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", zap.Int("clients", n))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// fanOut sends without holding the lock, then removes slow clients.
func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Warn("removed slow clients", zap.Int("removed", len(slow)), zap.Int("clients", n))
}

// Stop ends Run and disconnects every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast encodes message as JSON and queues it for every client. It never
// blocks: when the queue is full the message is counted as dropped.
func (h *Hub) Broadcast(message any) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("encode broadcast message", zap.Error(err))
		return
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- msg:
	case <-h.stop:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages returns how many broadcasts were dropped on a full queue.
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
