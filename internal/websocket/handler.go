package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/phpembed/internal/protocol"
)

const maxMessageSize = protocol.FrameHeaderSize + protocol.MaxHeaderSize + protocol.MaxPayloadSize

// Handler handles WebSocket upgrade requests and serves frames on the
// resulting connections.
type Handler struct {
	manager      *Manager
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewHandler creates a new WebSocket handler. A positive pingInterval
// enables keepalive pings; a peer silent for two intervals is dropped.
// Browsers may only connect from the server's own origin or one listed in
// allowedOrigins ("*" allows any).
func NewHandler(manager *Manager, pingInterval time.Duration, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients), same-origin requests, and the allowed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin)
		})
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.manager.Full() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	client, err := h.manager.AddConnection(conn, r.RemoteAddr)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	h.logger.Debug("websocket connected", "conn_id", client.ID, "remote_addr", client.RemoteAddr)

	done := make(chan struct{})
	if h.pingInterval > 0 {
		go h.pingPump(client, done)
	}
	go h.readPump(client, done)
}

func (h *Handler) readPump(client *Client, done chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		close(done)
		h.manager.RemoveConnection(client.ID)
		client.Conn.Close()
		h.logger.Debug("websocket disconnected", "conn_id", client.ID)
	}()

	conn := client.Conn
	conn.SetReadLimit(maxMessageSize)
	if h.pingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		})
	}

	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "conn_id", client.ID, "error", err)
			}
			return
		}

		var reply *protocol.Frame
		if kind != websocket.BinaryMessage {
			reply = protocol.NewErrorFrame(0, "frames must be sent as binary messages")
		} else {
			reply = h.manager.HandleMessage(ctx, client, message)
		}
		if reply == nil {
			continue
		}
		if err := client.Send(reply); err != nil {
			h.logger.Warn("websocket write failed", "conn_id", client.ID, "error", err)
			return
		}
	}
}

func (h *Handler) pingPump(client *Client, done chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.pingInterval)
			if err := client.Conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
