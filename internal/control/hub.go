package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/worker"
)

// Page message types pushed over the websocket
const (
	TypeControllerChange = "CONTROLLER_CHANGE"
	TypeNotification     = "NOTIFICATION"
	TypeOpenWindow       = "OPEN_WINDOW"
	TypeError            = "ERROR"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
)

// PageMessage is sent from the worker to the connected pages
type PageMessage struct {
	Type         string               `json:"type"`
	Version      string               `json:"version,omitempty"`
	URL          string               `json:"url,omitempty"`
	Notification *worker.Notification `json:"notification,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Hub keeps the websocket of every connected page. It implements
// worker.Clients, and messages read from a page go to the host with the
// same connection as reply channel.
type Hub struct {
	host     *worker.Host
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*pageConn]struct{}
}

type pageConn struct {
	ws   *websocket.Conn
	send chan []byte
}

// NewHub creates a hub delivering page messages to host
func NewHub(host *worker.Host) *Hub {
	return &Hub{
		host: host,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// pages are served through the proxy from any origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*pageConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the page until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	c := &pageConn{ws: ws, send: make(chan []byte, sendBuffer)}
	h.register(c)
	go c.writeLoop()

	h.readLoop(r.Context(), c)
	h.unregister(c)
}

// Len is the number of connected pages
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) register(c *pageConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	logrus.Debugf("Page connected (%d open)", n)
}

func (h *Hub) unregister(c *pageConn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) readLoop(ctx context.Context, c *pageConn) {
	for {
		var msg worker.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.Warnf("Page connection closed: %v", err)
			}
			return
		}

		res, err := h.host.Message(ctx, msg)
		if err != nil {
			h.reply(c, PageMessage{Type: TypeError, Error: err.Error()})
			continue
		}
		if res.Reply != nil {
			h.reply(c, res.Reply)
		}
	}
}

func (c *pageConn) writeLoop() {
	defer c.ws.Close()
	for b := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			logrus.Warnf("Failed to write to page: %v", err)
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// reply writes v to one page
func (h *Hub) reply(c *pageConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logrus.Errorf("Failed to encode reply: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
		logrus.Warnf("Dropping reply to slow page")
	}
}

func (h *Hub) broadcast(msg PageMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- b:
		default:
			logrus.Warnf("Dropping %s for slow page", msg.Type)
		}
	}
	logrus.Debugf("Broadcast %s to %d pages", msg.Type, len(h.conns))
	return nil
}

func (h *Hub) Claim(_ context.Context, version string) error {
	return h.broadcast(PageMessage{Type: TypeControllerChange, Version: version})
}

func (h *Hub) ShowNotification(_ context.Context, n worker.Notification) error {
	return h.broadcast(PageMessage{Type: TypeNotification, Notification: &n})
}

func (h *Hub) OpenWindow(_ context.Context, url string) error {
	return h.broadcast(PageMessage{Type: TypeOpenWindow, URL: url})
}
