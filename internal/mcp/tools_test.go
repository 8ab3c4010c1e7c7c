package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/service/contexts"
	"github.com/ashita-ai/novaport/internal/service/embedding"
	"github.com/ashita-ai/novaport/internal/service/items"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/testutil"
	"github.com/ashita-ai/novaport/internal/workspace"
)

const testDims = 64

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := testutil.TestLogger()
	reg := workspace.New(workspace.Config{
		EmbeddingDims: testDims,
		Release:       search.ReleaseOptions{Attempts: 1, Delay: time.Millisecond, GCDelay: time.Millisecond},
	}, logger)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	embedder := embedding.NewHolder(embedding.Static(embedding.NewHashProvider(testDims)), testDims, logger)
	return New(contexts.New(reg, logger), items.New(reg, embedder, logger), logger, "test")
}

// call invokes a registered tool by name.
func call(t *testing.T, s *Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool := s.MCPServer().GetTool(name)
	require.NotNil(t, tool, "tool %s is not registered", name)
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

// callOK invokes a tool, requires success and decodes its JSON output.
func callOK(t *testing.T, s *Server, name string, args map[string]any) any {
	t.Helper()
	result := call(t, s, name, args)
	text := parseToolText(t, result)
	require.False(t, result.IsError, "%s failed: %s", name, text)
	var out any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

// callErr invokes a tool, requires failure and returns the error code.
func callErr(t *testing.T, s *Server, name string, args map[string]any) toolError {
	t.Helper()
	result := call(t, s, name, args)
	text := parseToolText(t, result)
	require.True(t, result.IsError, "%s unexpectedly succeeded: %s", name, text)
	var out toolError
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func TestAllToolsRegistered(t *testing.T) {
	s := newTestServer(t)
	want := []string{
		"get_product_context", "update_product_context",
		"get_active_context", "update_active_context",
		"get_item_history", "diff_context_versions",
		"log_decision", "get_decisions", "delete_decision_by_id",
		"log_progress", "get_progress", "update_progress", "delete_progress_by_id",
		"log_system_pattern", "get_system_patterns", "delete_system_pattern_by_id",
		"log_custom_data", "get_custom_data", "delete_custom_data",
		"link_conport_items", "get_linked_items", "batch_log_items",
		"get_recent_activity_summary", "semantic_search_conport", "get_conport_schema",
		"search_decisions_fts", "search_custom_data_value_fts", "search_project_glossary_fts",
		"export_conport_to_markdown", "import_markdown_to_conport",
	}
	tools := s.MCPServer().ListTools()
	assert.Len(t, tools, len(want))
	for _, name := range want {
		assert.Contains(t, tools, name)
	}

	out := callOK(t, s, "get_conport_schema", nil).(map[string]any)
	assert.Len(t, out["tools"], len(want))
}

func TestContextTools(t *testing.T) {
	s := newTestServer(t)
	ws := t.TempDir()

	empty := callOK(t, s, "get_active_context", map[string]any{"workspace_id": ws})
	assert.Equal(t, map[string]any{}, empty)

	callOK(t, s, "update_active_context", map[string]any{
		"workspace_id": ws,
		"content":      map[string]any{"focus": "registry", "open_issues": []any{"a"}},
	})
	out := callOK(t, s, "update_active_context", map[string]any{
		"workspace_id":  ws,
		"patch_content": map[string]any{"open_issues": docpatch.DeleteSentinel, "owner": "sam", "gone": docpatch.DeleteSentinel},
	}).(map[string]any)
	assert.Equal(t, map[string]any{"focus": "registry", "owner": "sam"}, out["content"])
	assert.Equal(t, true, out["changed"])
	assert.Equal(t, []any{"gone"}, out["ignored_deletes"])

	got := callOK(t, s, "get_active_context", map[string]any{"workspace_id": ws})
	assert.Equal(t, map[string]any{"focus": "registry", "owner": "sam"}, got)

	// Product context is a separate document.
	product := callOK(t, s, "get_product_context", map[string]any{"workspace_id": ws})
	assert.Equal(t, map[string]any{}, product)

	history := callOK(t, s, "get_item_history", map[string]any{
		"workspace_id": ws, "item_type": "active_context",
	}).([]any)
	require.Len(t, history, 2)
	newest := history[0].(map[string]any)
	assert.Equal(t, float64(2), newest["version"])

	diff := callOK(t, s, "diff_context_versions", map[string]any{
		"workspace_id": ws, "item_type": "active_context", "version_a": 1, "version_b": 2,
	}).(map[string]any)
	assert.Contains(t, diff["changes"], "focus")

	e := callErr(t, s, "diff_context_versions", map[string]any{
		"workspace_id": ws, "item_type": "active_context", "version_a": 1, "version_b": 9,
	})
	assert.Equal(t, CodeNotFound, e.Code)
}

func TestUpdateContextArgumentErrors(t *testing.T) {
	s := newTestServer(t)
	ws := t.TempDir()

	cases := []map[string]any{
		{"workspace_id": ws},
		{"workspace_id": ws, "content": map[string]any{}, "patch_content": map[string]any{}},
		{"workspace_id": ws, "content": "not an object"},
		{"content": map[string]any{"a": 1}},
	}
	for i, args := range cases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			e := callErr(t, s, "update_product_context", args)
			assert.Equal(t, CodeInvalidArgument, e.Code)
		})
	}

	e := callErr(t, s, "get_item_history", map[string]any{"workspace_id": ws, "item_type": "decision"})
	assert.Equal(t, CodeInvalidArgument, e.Code)
	e = callErr(t, s, "get_item_history", map[string]any{
		"workspace_id": ws, "item_type": "product_context", "before_timestamp": "yesterday",
	})
	assert.Equal(t, CodeInvalidArgument, e.Code)
}

func TestDecisionTools(t *testing.T) {
	s := newTestServer(t)
	ws := t.TempDir()

	d := callOK(t, s, "log_decision", map[string]any{
		"workspace_id": ws,
		"summary":      "Use SQLite for the workspace store",
		"rationale":    "single file",
		"tags":         []any{"storage"},
	}).(map[string]any)
	id := d["id"].(float64)
	callOK(t, s, "log_decision", map[string]any{"workspace_id": ws, "summary": "Theme the dashboard"})

	list := callOK(t, s, "get_decisions", map[string]any{
		"workspace_id": ws, "tags_filter_include_all": []any{"storage"},
	}).(map[string]any)
	assert.Equal(t, float64(1), list["total"])

	res := callOK(t, s, "semantic_search_conport", map[string]any{
		"workspace_id": ws, "query_text": "sqlite workspace store", "top_k": 1,
	}).(map[string]any)
	results := res["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, fmt.Sprintf("decision_%d", int64(id)), results[0].(map[string]any)["id"])

	callOK(t, s, "delete_decision_by_id", map[string]any{"workspace_id": ws, "decision_id": id})
	e := callErr(t, s, "delete_decision_by_id", map[string]any{"workspace_id": ws, "decision_id": id})
	assert.Equal(t, CodeNotFound, e.Code)

	e = callErr(t, s, "log_decision", map[string]any{"workspace_id": ws, "summary": "  "})
	assert.Equal(t, CodeInvalidArgument, e.Code)
	e = callErr(t, s, "delete_decision_by_id", map[string]any{"workspace_id": ws})
	assert.Equal(t, CodeInvalidArgument, e.Code)
}

func TestProgressAndLinkTools(t *testing.T) {
	s := newTestServer(t)
	ws := t.TempDir()

	parent := callOK(t, s, "log_progress", map[string]any{
		"workspace_id":     ws,
		"status":           "IN_PROGRESS",
		"description":      "Build the registry",
		"linked_item_type": "decision",
		"linked_item_id":   "7",
	}).(map[string]any)
	parentID := parent["id"].(float64)

	child := callOK(t, s, "log_progress", map[string]any{
		"workspace_id": ws, "status": "TODO", "description": "Tests", "parent_id": parentID,
	}).(map[string]any)

	links := callOK(t, s, "get_linked_items", map[string]any{
		"workspace_id": ws, "item_type": "decision", "item_id": "7",
	}).([]any)
	require.Len(t, links, 1)
	assert.Equal(t, "relates_to_progress", links[0].(map[string]any)["relationship_type"])

	callOK(t, s, "link_conport_items", map[string]any{
		"workspace_id":      ws,
		"source_item_type":  "decision",
		"source_item_id":    "7",
		"target_item_type":  "system_pattern",
		"target_item_id":    "1",
		"relationship_type": "uses",
	})
	links = callOK(t, s, "get_linked_items", map[string]any{
		"workspace_id": ws, "item_type": "decision", "item_id": "7",
	}).([]any)
	assert.Len(t, links, 2)

	updated := callOK(t, s, "update_progress", map[string]any{
		"workspace_id": ws, "progress_id": child["id"], "status": "DONE",
	}).(map[string]any)
	assert.Equal(t, "DONE", updated["status"])

	done := callOK(t, s, "get_progress", map[string]any{"workspace_id": ws, "status_filter": "DONE"}).(map[string]any)
	assert.Equal(t, float64(1), done["total"])

	deleted := callOK(t, s, "delete_progress_by_id", map[string]any{
		"workspace_id": ws, "progress_id": parentID,
	}).(map[string]any)
	assert.Len(t, deleted["deleted_ids"], 2)

	e := callErr(t, s, "update_progress", map[string]any{"workspace_id": ws, "progress_id": parentID, "status": "DONE"})
	assert.Equal(t, CodeNotFound, e.Code)
	e = callErr(t, s, "get_progress", map[string]any{"workspace_id": ws, "parent_id_filter": -1})
	assert.Equal(t, CodeInvalidArgument, e.Code)
}

func TestPatternAndCustomDataTools(t *testing.T) {
	s := newTestServer(t)
	ws := t.TempDir()

	p := callOK(t, s, "log_system_pattern", map[string]any{
		"workspace_id": ws, "name": "Registry", "description": "one handle per path", "tags": []any{"core"},
	}).(map[string]any)
	patterns := callOK(t, s, "get_system_patterns", map[string]any{
		"workspace_id": ws, "tags_filter_include_any": []any{"core", "ui"},
	}).(map[string]any)
	assert.Equal(t, float64(1), patterns["total"])
	callOK(t, s, "delete_system_pattern_by_id", map[string]any{"workspace_id": ws, "pattern_id": p["id"]})

	callOK(t, s, "log_custom_data", map[string]any{
		"workspace_id": ws, "category": "glossary", "key": "ws", "value": map[string]any{"term": "workspace"},
	})
	callOK(t, s, "log_custom_data", map[string]any{
		"workspace_id": ws, "category": "config", "key": "retries", "value": 3,
	})

	one := callOK(t, s, "get_custom_data", map[string]any{
		"workspace_id": ws, "category": "glossary", "key": "ws",
	}).([]any)
	require.Len(t, one, 1)
	assert.Equal(t, map[string]any{"term": "workspace"}, one[0].(map[string]any)["value"])

	all := callOK(t, s, "get_custom_data", map[string]any{"workspace_id": ws}).([]any)
	assert.Len(t, all, 2)

	callOK(t, s, "delete_custom_data", map[string]any{"workspace_id": ws, "category": "config", "key": "retries"})
	e := callErr(t, s, "get_custom_data", map[string]any{"workspace_id": ws, "category": "config", "key": "retries"})
	assert.Equal(t, CodeNotFound, e.Code)
	e = callErr(t, s, "get_custom_data", map[string]any{"workspace_id": ws, "key": "retries"})
	assert.Equal(t, CodeInvalidArgument, e.Code)
	e = callErr(t, s, "log_custom_data", map[string]any{"workspace_id": ws, "category": "c", "key": "k"})
	assert.Equal(t, CodeInvalidArgument, e.Code)
}

func TestBatchAndActivityTools(t *testing.T) {
	s := newTestServer(t)
	ws := t.TempDir()

	out := callOK(t, s, "batch_log_items", map[string]any{
		"workspace_id": ws,
		"item_type":    "system_pattern",
		"items":        []any{map[string]any{"name": "A"}, map[string]any{"name": "B", "tags": []any{"x"}}},
	}).(map[string]any)
	assert.Equal(t, float64(2), out["succeeded"])

	e := callErr(t, s, "batch_log_items", map[string]any{
		"workspace_id": ws,
		"item_type":    "decision",
		"items":        []any{map[string]any{"summary": "ok"}, map[string]any{}},
	})
	assert.Equal(t, CodeInvalidArgument, e.Code)
	details := e.Details.(map[string]any)
	assert.Equal(t, float64(1), details["succeeded"])
	assert.Equal(t, float64(1), details["failed"])

	e = callErr(t, s, "batch_log_items", map[string]any{
		"workspace_id": ws, "item_type": "decision", "items": []any{"not an object"},
	})
	assert.Equal(t, CodeInvalidArgument, e.Code)

	sum := callOK(t, s, "get_recent_activity_summary", map[string]any{"workspace_id": ws}).(map[string]any)
	assert.Len(t, sum["decisions"], 1)
	assert.Len(t, sum["system_patterns"], 2)
	assert.Empty(t, sum["progress"])
}

func TestTextSearchTools(t *testing.T) {
	s := newTestServer(t)
	ws := t.TempDir()

	callOK(t, s, "log_decision", map[string]any{
		"workspace_id": ws, "summary": "Retry busy writes", "tags": []any{"sqlite"},
	})
	callOK(t, s, "log_custom_data", map[string]any{
		"workspace_id": ws, "category": items.GlossaryCategory, "key": "workspace", "value": "A project directory",
	})
	callOK(t, s, "log_custom_data", map[string]any{
		"workspace_id": ws, "category": "notes", "key": "layout", "value": "directory structure",
	})

	decs := callOK(t, s, "search_decisions_fts", map[string]any{"workspace_id": ws, "query_term": "sqli*"}).(map[string]any)
	assert.Equal(t, float64(1), decs["total"])
	none := callOK(t, s, "search_decisions_fts", map[string]any{"workspace_id": ws, "query_term": "postgres"}).(map[string]any)
	assert.Equal(t, float64(0), none["total"])
	assert.Equal(t, []any{}, none["decisions"])

	data := callOK(t, s, "search_custom_data_value_fts", map[string]any{"workspace_id": ws, "query_term": "directory"}).(map[string]any)
	assert.Equal(t, float64(2), data["total"])
	data = callOK(t, s, "search_custom_data_value_fts", map[string]any{
		"workspace_id": ws, "query_term": "directory", "category_filter": "notes",
	}).(map[string]any)
	assert.Equal(t, float64(1), data["total"])

	terms := callOK(t, s, "search_project_glossary_fts", map[string]any{"workspace_id": ws, "query_term": "directory"}).(map[string]any)
	require.Equal(t, float64(1), terms["total"])
	assert.Equal(t, "workspace", terms["terms"].([]any)[0].(map[string]any)["key"])

	e := callErr(t, s, "search_decisions_fts", map[string]any{"workspace_id": ws})
	assert.Equal(t, CodeInvalidArgument, e.Code)
}

func TestMarkdownTools(t *testing.T) {
	s := newTestServer(t)
	src, dst := t.TempDir(), t.TempDir()

	callOK(t, s, "log_decision", map[string]any{
		"workspace_id": src, "summary": "Keep history snapshots", "rationale": "Diffs need a base",
	})
	exp := callOK(t, s, "export_conport_to_markdown", map[string]any{"workspace_id": src}).(map[string]any)
	assert.Equal(t, float64(1), exp["decisions_exported"])
	assert.Equal(t, []any{items.DecisionLogFile}, exp["files_created"])

	raw, err := os.ReadFile(filepath.Join(exp["path"].(string), items.DecisionLogFile))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "in"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "in", items.DecisionLogFile), raw, 0o600))

	imp := callOK(t, s, "import_markdown_to_conport", map[string]any{"workspace_id": dst, "input_path": "in"}).(map[string]any)
	assert.Equal(t, float64(1), imp["decisions_imported"])
	found := callOK(t, s, "search_decisions_fts", map[string]any{"workspace_id": dst, "query_term": "base"}).(map[string]any)
	assert.Equal(t, float64(1), found["total"])

	e := callErr(t, s, "import_markdown_to_conport", map[string]any{"workspace_id": dst})
	assert.Equal(t, CodeNotFound, e.Code)
	e = callErr(t, s, "export_conport_to_markdown", map[string]any{"workspace_id": src, "output_path": "../elsewhere"})
	assert.Equal(t, CodeInvalidArgument, e.Code)
}

func TestWorkspaceErrors(t *testing.T) {
	s := newTestServer(t)

	e := callErr(t, s, "get_product_context", map[string]any{"workspace_id": "bad\x00path"})
	assert.Equal(t, CodeInvalidArgument, e.Code)

	// A regular file cannot hold a data directory.
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	e = callErr(t, s, "get_product_context", map[string]any{"workspace_id": file})
	assert.Equal(t, CodeProvisioning, e.Code)
}

func TestErrorCode(t *testing.T) {
	schemaErr := &storage.SchemaError{Version: 2, Name: "bad", Err: errors.New("syntax error")}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"schema", fmt.Errorf("workspace: migrate /x: %w", schemaErr), CodeSchema},
		{"provisioning", &workspace.ProvisioningError{Path: "/x", Op: "mkdir", Err: os.ErrPermission}, CodeProvisioning},
		{"invalid workspace", &workspace.ProvisioningError{Path: "", Op: "resolve", Err: workspace.ErrInvalidWorkspace}, CodeInvalidArgument},
		{"embedding", fmt.Errorf("items: %w", embedding.ErrUnavailable), CodeEmbeddingUnavailable},
		{"vector store", &search.StoreError{Op: "query", Path: "/x", Err: errors.New("io")}, CodeVectorStore},
		{"not found", fmt.Errorf("storage: decision 1: %w", storage.ErrNotFound), CodeNotFound},
		{"invalid update", docpatch.ErrInvalidUpdate, CodeInvalidArgument},
		{"invalid version", contexts.ErrInvalidVersion, CodeInvalidArgument},
		{"internal", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}
