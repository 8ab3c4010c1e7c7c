package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/novaport/internal/workspace"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Server is the NovaPort HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	mcpHTTP    *mcpserver.StreamableHTTPServer
	logger     *slog.Logger
}

// Config holds all dependencies and configuration for creating a Server.
// VectorStore may be nil when vectors live inside each workspace.
type Config struct {
	MCPServer   *mcpserver.MCPServer
	Registry    *workspace.Registry
	VectorStore HealthChecker
	Logger      *slog.Logger

	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a new HTTP server with the MCP endpoint mounted at /mcp.
func New(cfg Config) *Server {
	h := &handlers{
		registry:    cfg.Registry,
		vectorStore: cfg.VectorStore,
		version:     cfg.Version,
		startedAt:   time.Now(),
	}

	mux := http.NewServeMux()

	mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer,
		mcpserver.WithEndpointPath("/mcp"),
	)
	mux.Handle("/mcp", mcpHTTP)

	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		mcpHTTP: mcpHTTP,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server and closes open MCP
// sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	err := s.httpServer.Shutdown(ctx)
	if mcpErr := s.mcpHTTP.Shutdown(ctx); mcpErr != nil && err == nil {
		err = mcpErr
	}
	return err
}
