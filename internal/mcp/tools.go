package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/model"
)

func (s *Server) registerTools() {
	s.registerContextTools()
	s.registerDecisionTools()
	s.registerProgressTools()
	s.registerPatternTools()
	s.registerCustomDataTools()
	s.registerLinkTools()
	s.registerSearchTools()
	s.registerTextTools()
}

func (s *Server) registerContextTools() {
	for _, kind := range []model.ContextKind{model.ProductContext, model.ActiveContext} {
		label := "product"
		if kind == model.ActiveContext {
			label = "active"
		}

		s.mcpServer.AddTool(
			mcplib.NewTool("get_"+string(kind),
				mcplib.WithDescription(fmt.Sprintf("Retrieves the %s context of the workspace as a JSON object.", label)),
				mcplib.WithReadOnlyHintAnnotation(true),
				mcplib.WithIdempotentHintAnnotation(true),
				mcplib.WithOpenWorldHintAnnotation(false),
				workspaceArg(),
			),
			s.handleGetContext(kind),
		)

		s.mcpServer.AddTool(
			mcplib.NewTool("update_"+string(kind),
				mcplib.WithDescription(fmt.Sprintf(`Updates the %s context.

Provide exactly one of:
- content: the full new document. Replaces the existing one.
- patch_content: top-level keys to add or overwrite. A key whose value is
  "__DELETE__" is removed.

Every effective change is recorded as a new history version.`, label)),
				mcplib.WithDestructiveHintAnnotation(false),
				mcplib.WithOpenWorldHintAnnotation(false),
				workspaceArg(),
				mcplib.WithObject("content",
					mcplib.Description("The full new context content. Overwrites the existing document."),
				),
				mcplib.WithObject("patch_content",
					mcplib.Description(`Changes to merge into the existing document. Use "__DELETE__" as a value to remove a key.`),
				),
			),
			s.handleUpdateContext(kind),
		)
	}

	s.mcpServer.AddTool(
		mcplib.NewTool("get_item_history",
			mcplib.WithDescription("Retrieves the version history of the product or active context, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("item_type",
				mcplib.Description("Context to inspect"),
				mcplib.Enum(string(model.ProductContext), string(model.ActiveContext)),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of history entries"),
				mcplib.Min(1),
				mcplib.DefaultNumber(model.DefaultHistoryLimit),
			),
			mcplib.WithNumber("version", mcplib.Description("Return only this version")),
			mcplib.WithString("before_timestamp", mcplib.Description("Only entries before this RFC 3339 timestamp")),
			mcplib.WithString("after_timestamp", mcplib.Description("Only entries after this RFC 3339 timestamp")),
		),
		s.handleItemHistory,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("diff_context_versions",
			mcplib.WithDescription("Compares two history versions of a context and lists the keys added, removed or changed from version_a to version_b."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("item_type",
				mcplib.Description("Context to compare"),
				mcplib.Enum(string(model.ProductContext), string(model.ActiveContext)),
				mcplib.Required(),
			),
			mcplib.WithNumber("version_a", mcplib.Description("Base version"), mcplib.Required(), mcplib.Min(1)),
			mcplib.WithNumber("version_b", mcplib.Description("Version to compare against the base"), mcplib.Required(), mcplib.Min(1)),
		),
		s.handleDiffVersions,
	)
}

func (s *Server) handleGetContext(kind model.ContextKind) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		ws, errRes := requireWorkspace(request)
		if errRes != nil {
			return errRes, nil
		}
		doc, err := s.contexts.Get(ctx, ws, kind)
		if err != nil {
			return s.errorResult(ctx, "get_"+string(kind), err), nil
		}
		return jsonResult(doc.Content)
	}
}

func (s *Server) handleUpdateContext(kind model.ContextKind) mcpserver.ToolHandlerFunc {
	tool := "update_" + string(kind)
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		ws, errRes := requireWorkspace(request)
		if errRes != nil {
			return errRes, nil
		}
		content, hasContent, err := objectArg(request, "content")
		if err != nil {
			return invalidArgument("%v", err), nil
		}
		patch, hasPatch, err := objectArg(request, "patch_content")
		if err != nil {
			return invalidArgument("%v", err), nil
		}
		if hasContent == hasPatch {
			return invalidArgument("provide either content or patch_content, not both or neither"), nil
		}

		u := docpatch.PatchOf(patch)
		if hasContent {
			u = docpatch.Full(content)
		}
		res, err := s.contexts.Update(ctx, ws, kind, u, "mcp:"+tool)
		if err != nil {
			return s.errorResult(ctx, tool, err), nil
		}

		out := map[string]any{
			"content": res.Document.Content,
			"changed": res.Changed(),
		}
		if res.History != nil {
			out["version"] = res.History.Version
		}
		if len(res.IgnoredDeletes) > 0 {
			out["ignored_deletes"] = res.IgnoredDeletes
		}
		return jsonResult(out)
	}
}

func (s *Server) handleItemHistory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	kind, err := model.ParseContextKind(request.GetString("item_type", ""))
	if err != nil {
		return invalidArgument("%v", err), nil
	}

	f := model.HistoryFilter{Limit: request.GetInt("limit", model.DefaultHistoryLimit)}
	if hasArg(request, "version") {
		v := request.GetInt("version", 0)
		f.Version = &v
	}
	if f.Before, errRes = optionalTime(request, "before_timestamp"); errRes != nil {
		return errRes, nil
	}
	if f.After, errRes = optionalTime(request, "after_timestamp"); errRes != nil {
		return errRes, nil
	}

	records, err := s.contexts.History(ctx, ws, kind, f)
	if err != nil {
		return s.errorResult(ctx, "get_item_history", err), nil
	}
	if records == nil {
		records = []model.HistoryRecord{}
	}
	return jsonResult(records)
}

func (s *Server) handleDiffVersions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	kind, err := model.ParseContextKind(request.GetString("item_type", ""))
	if err != nil {
		return invalidArgument("%v", err), nil
	}
	if !hasArg(request, "version_a") || !hasArg(request, "version_b") {
		return invalidArgument("version_a and version_b are required"), nil
	}
	a := request.GetInt("version_a", 0)
	b := request.GetInt("version_b", 0)

	diff, err := s.contexts.DiffVersions(ctx, ws, kind, a, b)
	if err != nil {
		return s.errorResult(ctx, "diff_context_versions", err), nil
	}
	return jsonResult(map[string]any{
		"item_type": kind,
		"version_a": a,
		"version_b": b,
		"changes":   diff,
	})
}
