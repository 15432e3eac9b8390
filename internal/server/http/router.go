// Package http exposes the run execution service over a LangGraph-compatible
// REST and streaming surface: JSON CRUD for threads and runs, SSE for run
// output, and a websocket rejoin channel.
package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"strand/internal/logging"
	"strand/internal/observability"
	"strand/internal/server/app"
)

// RouterConfig carries the transport-level knobs.
type RouterConfig struct {
	// Environment toggles gin debug mode ("development") vs release.
	Environment     string
	AllowedOrigins  []string
	SSEPingInterval time.Duration
}

// NewRouter assembles the gin engine over the service.
func NewRouter(svc *app.Service, obs *observability.Observability, cfg RouterConfig) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.NewComponentLogger("HTTP")
	if obs != nil {
		logger = logging.FromObservabilityWithComponent(obs.Logger, "HTTP")
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Last-Event-ID"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	h := newHandlers(svc, logger, cfg.SSEPingInterval)

	engine.GET("/ok", h.healthCheck)
	engine.GET("/info", h.info)
	engine.GET("/assistants", h.listAssistants)

	if obs != nil && obs.Metrics != nil {
		if handler := obs.Metrics.Handler(); handler != nil {
			engine.GET("/metrics", gin.WrapH(handler))
		}
	}

	threads := engine.Group("/threads")
	{
		threads.POST("", h.createThread)
		threads.POST("/search", h.searchThreads)
		threads.GET("/:thread_id", h.getThread)
		threads.DELETE("/:thread_id", h.deleteThread)

		threads.GET("/:thread_id/state", h.getThreadState)
		threads.POST("/:thread_id/state", h.updateThreadState)
		threads.GET("/:thread_id/state/:checkpoint_id", h.getThreadStateAtCheckpoint)
		threads.GET("/:thread_id/history", h.getThreadHistory)
		threads.POST("/:thread_id/history", h.getThreadHistoryPost)

		threads.POST("/:thread_id/runs", h.createRun)
		threads.GET("/:thread_id/runs", h.listRuns)
		threads.POST("/:thread_id/runs/stream", h.streamRun)
		threads.POST("/:thread_id/runs/wait", h.waitRun)
		threads.GET("/:thread_id/runs/:run_id", h.getRun)
		threads.POST("/:thread_id/runs/:run_id/cancel", h.cancelRun)
		threads.GET("/:thread_id/runs/:run_id/stream", h.streamRunOutput)
	}

	engine.GET("/ws/runs/:run_id", h.streamRunWebSocket)

	return engine
}

// requestLogger logs each request with method, path, status, and latency.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
