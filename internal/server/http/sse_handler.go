package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"strand/internal/server/app"
)

// streamRun executes a run attached to the connection and streams its events
// as SSE. Closing the connection triggers the run's disconnect policy.
func (h *handlers) streamRun(c *gin.Context) {
	req, ok := h.bindRunRequest(c)
	if !ok {
		return
	}
	if !h.svc.HasGraph(req.AssistantID) {
		c.JSON(http.StatusNotFound, gin.H{
			"detail": fmt.Sprintf("Graph %s not found. Available: %v", req.AssistantID, h.svc.ListGraphs()),
		})
		return
	}

	events := h.svc.StreamRun(c.Request.Context(), c.Param("thread_id"), req)
	h.writeSSE(c, events, 0)
}

// streamRunOutput rejoins a run's output stream: buffered history first, then
// live events. Last-Event-ID picks the replay position up where the previous
// connection dropped.
func (h *handlers) streamRunOutput(c *gin.Context) {
	runID := c.Param("run_id")

	if _, err := h.svc.GetRun(c.Param("thread_id"), runID); err != nil && !h.svc.HasRunOutput(runID) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Run " + runID + " not found"})
		return
	}

	startID := 0
	if lastID := c.GetHeader("Last-Event-ID"); lastID != "" {
		if n, err := strconv.Atoi(lastID); err == nil {
			startID = n + 1
		}
	}

	events := h.svc.StreamRunOutput(c.Request.Context(), runID)
	h.writeSSE(c, events, startID)
}

// writeSSE frames events as text/event-stream with per-connection sequence
// ids. startID skips already-delivered events on reconnect.
func (h *handlers) writeSSE(c *gin.Context, events <-chan app.Event, startID int) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "streaming unsupported"})
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if seq < startID {
				seq++
				continue
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				h.logger.Error("SSE event marshal failed: %v", err)
				seq++
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Event, data); err != nil {
				return
			}
			flusher.Flush()
			seq++

		case <-ticker.C:
			if _, err := fmt.Fprintf(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
