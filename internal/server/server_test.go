package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/testutil"
	"github.com/ashita-ai/novaport/internal/workspace"
)

type stubHealth struct{ err error }

func (s stubHealth) Healthy(context.Context) error { return s.err }

func newTestServer(t *testing.T, vs HealthChecker) (*Server, *workspace.Registry) {
	t.Helper()
	logger := testutil.TestLogger()
	reg := workspace.New(workspace.Config{
		EmbeddingDims: 16,
		Release:       search.ReleaseOptions{Attempts: 1, Delay: time.Millisecond, GCDelay: time.Millisecond},
	}, logger)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	srv := New(Config{
		MCPServer:   mcpserver.NewMCPServer("novaport", "test", mcpserver.WithToolCapabilities(true)),
		Registry:    reg,
		VectorStore: vs,
		Logger:      logger,
		Version:     "test",
	})
	return srv, reg
}

func TestHealth(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	_, err := reg.Acquire(context.Background(), t.TempDir())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 1, resp.OpenWorkspaces)
	assert.Empty(t, resp.VectorStore)
}

func TestHealthVectorStore(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		srv, _ := newTestServer(t, stubHealth{})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "connected", resp.VectorStore)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv, _ := newTestServer(t, stubHealth{err: errors.New("connection refused")})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "unreachable", resp.VectorStore)
	})
}

func TestMCPEndpointInitialize(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{` +
		`"protocolVersion":"2025-03-26","capabilities":{},` +
		`"clientInfo":{"name":"test-client","version":"1.0"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"novaport"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/decisions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
