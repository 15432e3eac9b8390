// Package bootstrap wires configuration, observability, storage, and the
// HTTP layer into a runnable server process.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"strand/internal/async"
	"strand/internal/config"
	"strand/internal/graph"
	"strand/internal/logging"
	"strand/internal/observability"
	serverApp "strand/internal/server/app"
	serverHTTP "strand/internal/server/http"
)

// RunServer starts the HTTP API server over the given graph registry and
// blocks until a shutdown signal is received.
func RunServer(cfg config.Config, graphs map[string]graph.Graph, checkpointer graph.Checkpointer) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting strand server...")

	obs, err := observability.NewFromConfig(cfg.Observability)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}()
	logger = logging.FromObservabilityWithComponent(obs.Logger, "Main")

	serviceOpts := []serverApp.ServiceOption{
		serverApp.WithObservability(obs),
		serverApp.WithEventBufferTTL(cfg.Runs.EventBufferTTL.Std()),
		serverApp.WithServiceReaperInterval(cfg.Runs.ReaperInterval.Std()),
		serverApp.WithWebhookHTTPClient(&http.Client{Timeout: cfg.Runs.WebhookTimeout.Std()}),
		serverApp.WithThreadViewCache(cfg.Runs.ThreadCacheSize, cfg.Runs.ThreadCacheTTL.Std()),
	}

	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
		if err != nil {
			logger.Warn("Thread index disabled, postgres unavailable: %v", err)
		} else {
			defer pool.Close()
			serviceOpts = append(serviceOpts, serverApp.WithThreadIndex(serverApp.NewPostgresThreadIndex(pool)))
			logger.Info("Thread search index backed by postgres")
		}
	}

	svc := serverApp.NewService(graphs, checkpointer, serviceOpts...)
	svc.Start()
	defer svc.Stop()

	router := serverHTTP.NewRouter(svc, obs, serverHTTP.RouterConfig{
		Environment:     cfg.Server.Environment,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SSEPingInterval: cfg.Server.SSEPingInterval.Std(),
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout.Std(),
		// WriteTimeout intentionally follows the config default of zero so
		// long-lived SSE and websocket streams are not severed mid-run.
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("Registered graphs: %v", svc.ListGraphs())

	return serveUntilSignal(server, cfg.Server.ShutdownTimeout.Std(), logger)
}

func serveUntilSignal(server *http.Server, shutdownTimeout time.Duration, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("Server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}

		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}

		logger.Info("Server stopped")
		return nil
	}
}
