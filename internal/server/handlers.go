package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ashita-ai/novaport/internal/workspace"
)

type handlers struct {
	registry    *workspace.Registry
	vectorStore HealthChecker
	version     string
	startedAt   time.Time
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	OpenWorkspaces int    `json:"open_workspaces"`
	VectorStore    string `json:"vector_store,omitempty"`
	Uptime         int64  `json:"uptime_seconds"`
}

// handleHealth handles GET /health. Workspace storage is local, so only an
// external vector store can make the server unhealthy.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	if h.registry != nil {
		resp.OpenWorkspaces = h.registry.Len()
	}

	status := http.StatusOK
	if h.vectorStore != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.vectorStore.Healthy(ctx); err != nil {
			resp.VectorStore = "unreachable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.VectorStore = "connected"
		}
	}

	writeJSON(w, status, resp)
}
