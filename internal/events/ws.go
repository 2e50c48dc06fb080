package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single frame write to an observer.
	writeWait = 10 * time.Second
	// pongWait bounds how long a silent connection is kept.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler upgrades HTTP requests on the channel port to WebSocket
// connections fed from the broker. The channel is one-directional: inbound
// frames are read only to keep the connection's pong handler running.
type WSHandler struct {
	broker   *Broker
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the WebSocket endpoint handler.
func NewWSHandler(broker *Broker, log *slog.Logger) *WSHandler {
	return &WSHandler{
		broker: broker,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The channel binds to loopback by default; the UI connects
			// from a file:// or app:// origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("channel: upgrade failed", slog.String("error", err.Error()))
		return
	}

	id := uuid.NewString()[:8]
	h.log.Info("channel: observer connected",
		slog.String("conn", id),
		slog.String("remote", r.RemoteAddr))

	ch := h.broker.Subscribe()
	defer func() {
		h.broker.Unsubscribe(ch)
		_ = conn.Close()
		h.log.Info("channel: observer disconnected", slog.String("conn", id))
	}()

	// Reader: discard inbound frames, maintain the pong deadline, and
	// signal when the peer goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return

		case msg, ok := <-ch:
			if !ok {
				// Broker shut down; tell the peer we are done.
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
