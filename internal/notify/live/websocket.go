package live

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 512
)

// ServeWS upgrades the request and pushes each observation as a JSON text frame.
// Inbound frames are read only to process control messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	sub := h.Subscribe()
	L := h.logger.With("transport", "websocket")
	L.Info(r.Context(), "live observer connected", "subscribers", h.Subscribers())

	done := make(chan struct{})
	go h.wsReadPump(conn, done)
	h.wsWritePump(conn, sub, done)

	sub.Close()
	_ = conn.Close()
	L.Info(r.Context(), "live observer disconnected")
}

// wsReadPump drains the connection until it fails, which is how a client
// close is noticed. Pongs extend the read deadline.
func (h *Hub) wsReadPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	pongWait := 2 * h.keepalive
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) wsWritePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
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
