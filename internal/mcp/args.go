package mcp

import (
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func workspaceArg() mcplib.ToolOption {
	return mcplib.WithString("workspace_id",
		mcplib.Description("Identifier for the workspace: the absolute path of the project directory"),
		mcplib.Required(),
	)
}

func requireWorkspace(request mcplib.CallToolRequest) (string, *mcplib.CallToolResult) {
	ws := strings.TrimSpace(request.GetString("workspace_id", ""))
	if ws == "" {
		return "", invalidArgument("workspace_id is required")
	}
	return ws, nil
}

func hasArg(request mcplib.CallToolRequest, key string) bool {
	v, ok := request.GetArguments()[key]
	return ok && v != nil
}

// objectArg returns a JSON object argument. ok is false when the argument is
// absent; err is set when it is present but not an object.
func objectArg(request mcplib.CallToolRequest, key string) (m map[string]any, ok bool, err error) {
	v, present := request.GetArguments()[key]
	if !present || v == nil {
		return nil, false, nil
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		return nil, true, fmt.Errorf("%s must be an object", key)
	}
	return m, true, nil
}

// idArg returns a positive integer ID argument.
func idArg(request mcplib.CallToolRequest, key string) (int64, *mcplib.CallToolResult) {
	if !hasArg(request, key) {
		return 0, invalidArgument("%s is required", key)
	}
	id := request.GetInt(key, 0)
	if id <= 0 {
		return 0, invalidArgument("%s must be a positive integer", key)
	}
	return int64(id), nil
}

func optionalID(request mcplib.CallToolRequest, key string) (*int64, *mcplib.CallToolResult) {
	if !hasArg(request, key) {
		return nil, nil
	}
	id, errRes := idArg(request, key)
	if errRes != nil {
		return nil, errRes
	}
	return &id, nil
}

func optionalString(request mcplib.CallToolRequest, key string) *string {
	if !hasArg(request, key) {
		return nil
	}
	v := request.GetString(key, "")
	return &v
}

func optionalTime(request mcplib.CallToolRequest, key string) (*time.Time, *mcplib.CallToolResult) {
	raw := request.GetString(key, "")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, invalidArgument("%s must be an RFC 3339 timestamp: %v", key, err)
	}
	return &t, nil
}

// objectList returns an array-of-objects argument.
func objectList(request mcplib.CallToolRequest, key string) ([]map[string]any, error) {
	raw, ok := request.GetArguments()[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array of objects", key)
	}
	out := make([]map[string]any, len(raw))
	for i, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object", key, i)
		}
		out[i] = m
	}
	return out, nil
}
