// Package mcp implements the Model Context Protocol server for NovaPort.
//
// Every tool takes a workspace_id naming the project directory whose memory
// it reads or writes. The workspace is provisioned on first use.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/service/contexts"
	"github.com/ashita-ai/novaport/internal/service/embedding"
	"github.com/ashita-ai/novaport/internal/service/items"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/workspace"
)

const serverInstructions = `NovaPort is a per-project memory. Pass the absolute path of the project
directory as workspace_id on every call; storage is created there on first use.

Use get_product_context and get_active_context at the start of a session,
log_decision / log_progress / log_system_pattern as work happens, and
semantic_search_conport to recall related items.`

// Server wraps the MCP server with NovaPort's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	contexts  *contexts.Service
	items     *items.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools.
func New(contextSvc *contexts.Service, itemSvc *items.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		contexts: contextSvc,
		items:    itemSvc,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"novaport",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
		mcpserver.WithRecovery(),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves a single client over in and out until ctx is done or
// the input closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// Error codes returned in the "code" field of a failed tool call.
const (
	CodeProvisioning         = "provisioning_error"
	CodeSchema               = "schema_error"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeVectorStore          = "vector_store_error"
	CodeNotFound             = "not_found"
	CodeInvalidArgument      = "invalid_argument"
	CodeInternal             = "internal"
)

// errorCode classifies err. Schema failures are checked before provisioning
// failures since a workspace whose migrations fail never finishes
// provisioning.
func errorCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrSchema):
		return CodeSchema
	case errors.Is(err, workspace.ErrInvalidWorkspace),
		errors.Is(err, items.ErrInvalidInput),
		errors.Is(err, docpatch.ErrInvalidUpdate),
		errors.Is(err, contexts.ErrInvalidVersion),
		errors.Is(err, storage.ErrConflict):
		return CodeInvalidArgument
	case errors.Is(err, workspace.ErrProvisioning):
		return CodeProvisioning
	case errors.Is(err, embedding.ErrUnavailable):
		return CodeEmbeddingUnavailable
	case errors.Is(err, search.ErrVectorStore):
		return CodeVectorStore
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

type toolError struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// errorResult reports err as a failed tool call. Internal errors are logged
// since the caller only sees the message.
func (s *Server) errorResult(ctx context.Context, tool string, err error) *mcplib.CallToolResult {
	code := errorCode(err)
	if code == CodeInternal {
		s.logger.ErrorContext(ctx, "mcp: tool failed", "tool", tool, "error", err)
	} else {
		s.logger.DebugContext(ctx, "mcp: tool rejected", "tool", tool, "code", code, "error", err)
	}
	return encodeError(toolError{Code: code, Error: err.Error()})
}

// invalidArgument reports a malformed tool call.
func invalidArgument(format string, args ...any) *mcplib.CallToolResult {
	return encodeError(toolError{Code: CodeInvalidArgument, Error: fmt.Sprintf(format, args...)})
}

func encodeError(e toolError) *mcplib.CallToolResult {
	data, _ := json.Marshal(e)
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	resultData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}
