package live

import (
	"fmt"
	"net/http"
	"time"
)

// ServeSSE streams observations as Server-Sent Events named "call".
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	// long-lived stream; lift any server write deadline
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	L := h.logger.With("transport", "sse")

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		L.Error(ctx, err, "event stream cannot be flushed")
		return
	}

	L.Info(ctx, "live observer connected", "subscribers", h.Subscribers())
	defer L.Info(ctx, "live observer disconnected")

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: call\ndata: %s\n\n", msg); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
