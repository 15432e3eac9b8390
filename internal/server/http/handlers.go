package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"strand/internal/logging"
	"strand/internal/server/app"
)

const serverVersion = "1.0.0"

type handlers struct {
	svc          *app.Service
	logger       logging.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func newHandlers(svc *app.Service, logger logging.Logger, pingInterval time.Duration) *handlers {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &handlers{
		svc:          svc,
		logger:       logging.OrNop(logger),
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// writeError maps domain sentinels to HTTP statuses.
func (h *handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, app.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	case errors.Is(err, app.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
	default:
		h.logger.Error("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}

// System

func (h *handlers) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": serverVersion,
		"graphs":  h.svc.ListGraphs(),
	})
}

func (h *handlers) listAssistants(c *gin.Context) {
	names := h.svc.ListGraphs()
	assistants := make([]gin.H, 0, len(names))
	for _, name := range names {
		assistants = append(assistants, gin.H{
			"assistant_id": name,
			"graph_id":     name,
			"name":         name,
			"metadata":     gin.H{},
		})
	}
	c.JSON(http.StatusOK, assistants)
}

// Threads

func (h *handlers) createThread(c *gin.Context) {
	var req app.ThreadCreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, h.svc.CreateThread(&req))
}

func (h *handlers) searchThreads(c *gin.Context) {
	var req app.ThreadSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	threads, err := h.svc.SearchThreads(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, threads)
}

func (h *handlers) getThread(c *gin.Context) {
	thread, err := h.svc.GetThread(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *handlers) deleteThread(c *gin.Context) {
	if err := h.svc.DeleteThread(c.Request.Context(), c.Param("thread_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Thread state

func (h *handlers) getThreadState(c *gin.Context) {
	threadID := c.Param("thread_id")
	subgraphs := c.Query("subgraphs") == "true"
	state, err := h.svc.GetThreadState(c.Request.Context(), threadID, subgraphs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Thread " + threadID + " not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

type threadStateUpdateRequest struct {
	Values       map[string]any `json:"values"`
	AsNode       string         `json:"as_node"`
	CheckpointID string         `json:"checkpoint_id"`
	CheckpointNS string         `json:"checkpoint_ns"`
}

func (h *handlers) updateThreadState(c *gin.Context) {
	var req threadStateUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	ref, err := h.svc.UpdateThreadState(c.Request.Context(), c.Param("thread_id"),
		req.Values, req.AsNode, req.CheckpointID, req.CheckpointNS)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoint": ref})
}

func (h *handlers) getThreadStateAtCheckpoint(c *gin.Context) {
	checkpointID := c.Param("checkpoint_id")
	state, err := h.svc.GetThreadStateAtCheckpoint(c.Request.Context(),
		c.Param("thread_id"), checkpointID, c.Query("checkpoint_ns"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Checkpoint " + checkpointID + " not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handlers) getThreadHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	history, err := h.svc.GetThreadHistory(c.Request.Context(), c.Param("thread_id"),
		limit, c.Query("before"), c.Query("checkpoint_ns"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

type threadHistoryRequest struct {
	Limit        int    `json:"limit"`
	Before       string `json:"before"`
	CheckpointNS string `json:"checkpoint_ns"`
}

func (h *handlers) getThreadHistoryPost(c *gin.Context) {
	var req threadHistoryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}
	}
	history, err := h.svc.GetThreadHistory(c.Request.Context(), c.Param("thread_id"),
		req.Limit, req.Before, req.CheckpointNS)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// Runs

func (h *handlers) bindRunRequest(c *gin.Context) (*app.RunRequest, bool) {
	var req app.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return nil, false
	}
	if req.AssistantID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "assistant_id is required"})
		return nil, false
	}
	return &req, true
}

func (h *handlers) createRun(c *gin.Context) {
	req, ok := h.bindRunRequest(c)
	if !ok {
		return
	}
	if !h.svc.HasGraph(req.AssistantID) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Graph " + req.AssistantID + " not found"})
		return
	}
	run, err := h.svc.CreateRun(c.Request.Context(), c.Param("thread_id"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *handlers) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ListRuns(c.Param("thread_id")))
}

func (h *handlers) getRun(c *gin.Context) {
	run, err := h.svc.GetRun(c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *handlers) cancelRun(c *gin.Context) {
	threadID, runID := c.Param("thread_id"), c.Param("run_id")
	if !h.svc.CancelRun(c.Request.Context(), threadID, runID) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Run " + runID + " not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *handlers) waitRun(c *gin.Context) {
	req, ok := h.bindRunRequest(c)
	if !ok {
		return
	}
	if !h.svc.HasGraph(req.AssistantID) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Graph " + req.AssistantID + " not found"})
		return
	}
	result, err := h.svc.WaitRun(c.Request.Context(), c.Param("thread_id"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
