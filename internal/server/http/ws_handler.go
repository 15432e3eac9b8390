package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// wsEvent is the websocket frame shape, mirroring the SSE fields.
type wsEvent struct {
	ID    int    `json:"id"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// streamRunWebSocket rejoins a run's output stream over a websocket. Each
// frame is one JSON event; the connection closes after the terminal event.
func (h *handlers) streamRunWebSocket(c *gin.Context) {
	runID := c.Param("run_id")
	if !h.svc.HasRunOutput(runID) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Run " + runID + " not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Drain client frames so close and ping control messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := h.svc.StreamRunOutput(c.Request.Context(), runID)
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case ev, open := <-events:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsEvent{ID: seq, Event: ev.Event, Data: ev.Data}); err != nil {
				return
			}
			seq++

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Request.Context().Done():
			return
		}
	}
}
