package progress

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536

	clientSendBufferSize = 512
)

// OriginChecker allows browser origins from a fixed list.
// Requests without an Origin header (curl, scripts) are always allowed.
type OriginChecker struct {
	allowed  map[string]struct{}
	allowAll bool
}

// NewOriginChecker builds a checker. An empty list or a "*" entry allows all.
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			oc.allowAll = true
		}
		if o != "" {
			oc.allowed[o] = struct{}{}
		}
	}
	if len(oc.allowed) == 0 {
		oc.allowAll = true
	}
	return oc
}

// Check reports whether origin may connect.
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowed[origin]
	return ok
}

// Client is one websocket connection. Clients only receive; anything they
// send is read and discarded so control frames keep flowing.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump sends queued messages one per frame and pings idle connections.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// ServeWS upgrades the request and registers the connection with hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return hub.origins.Check(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{hub: hub, conn: conn, send: make(chan []byte, clientSendBufferSize)}
	select {
	case hub.register <- c:
	case <-hub.stop:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Handler returns an http.Handler serving ServeWS for hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(h, w, r)
	})
}
