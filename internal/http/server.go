// Package http exposes health checks, Prometheus metrics and the JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"melodeck/internal/core"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config *core.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer wires the routes. gatherer is what /metrics exposes; pass the registry the
// Metrics were registered with.
func NewServer(config *core.ServerConfig, api *API, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := setupRoutes(api, gatherer, logger)
	return &Server{
		config: config,
		logger: logger,
		server: createHTTPServer(config, mux),
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(api *API, gatherer prometheus.Gatherer, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "melodeck"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if api == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting", "service": "melodeck"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "melodeck"})
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	}))

	mux.HandleFunc("GET /{$}", homeHandler(logger))

	if api != nil {
		api.register(mux)
	}
	return mux
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(homePage)); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>Melodeck</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        code { background: #f3f3f3; padding: 2px 4px; }
    </style>
</head>
<body>
    <h1>Melodeck</h1>
    <p>Stream resolution, playback recovery and lyrics.</p>

    <h2>Endpoints</h2>
    <ul>
        <li><a href="/metrics">/metrics</a> Prometheus metrics</li>
        <li><a href="/healthz">/healthz</a> health check</li>
        <li><a href="/readyz">/readyz</a> readiness check</li>
        <li><code>/api/v1/resolve?id=</code> verified stream URL</li>
        <li><code>/api/v1/metadata?id=</code> track metadata</li>
        <li><code>/api/v1/lyrics?title=&amp;artist=</code> lyrics</li>
        <li><code>/api/v1/lyrics/all?title=&amp;artist=</code> lyrics from every provider</li>
        <li><code>POST /api/v1/play?id=</code> headless playback into the configured sink</li>
        <li><a href="/api/v1/recovery">/api/v1/recovery</a> playback recovery state</li>
    </ul>
</body>
</html>`

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Handler returns the server's router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
