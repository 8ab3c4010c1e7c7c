package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/service/items"
)

func queryTermArg(desc string) mcplib.ToolOption {
	return mcplib.WithString("query_term",
		mcplib.Description(desc+". Words are ANDed; a trailing * matches a prefix."),
		mcplib.Required(),
	)
}

func (s *Server) registerTextTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("search_decisions_fts",
			mcplib.WithDescription("Full-text search over decision summaries, rationale, implementation details and tags."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			queryTermArg("Words to find in decisions"),
			limitArg(10),
		),
		s.handleSearchDecisionsText,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("search_custom_data_value_fts",
			mcplib.WithDescription("Full-text search over custom data categories, keys and values."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			queryTermArg("Words to find in custom data"),
			mcplib.WithString("category_filter", mcplib.Description("Only entries in this category")),
			limitArg(10),
		),
		s.handleSearchCustomDataText,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("search_project_glossary_fts",
			mcplib.WithDescription(`Full-text search over the project glossary.

Glossary terms are custom data in the `+items.GlossaryCategory+` category, keyed by term.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			queryTermArg("Words to find in glossary terms and definitions"),
			limitArg(10),
		),
		s.handleSearchGlossary,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("export_conport_to_markdown",
			mcplib.WithDescription(`Writes the decision log to decisions.md, oldest first.

The output directory is relative to the workspace and is created if missing.
With no decisions, no file is written.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("output_path",
				mcplib.Description("Output directory, relative to the workspace"),
				mcplib.DefaultString(items.DefaultTransferDir),
			),
		),
		s.handleExportMarkdown,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("import_markdown_to_conport",
			mcplib.WithDescription(`Logs every decision found in decisions.md as a new decision.

Reads the format export_conport_to_markdown writes. Entries without a summary
are skipped.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("input_path",
				mcplib.Description("Directory holding decisions.md, relative to the workspace"),
				mcplib.DefaultString(items.DefaultTransferDir),
			),
		),
		s.handleImportMarkdown,
	)
}

func (s *Server) handleSearchDecisionsText(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	decs, err := s.items.SearchDecisionsText(ctx, ws, request.GetString("query_term", ""), request.GetInt("limit", 10))
	if err != nil {
		return s.errorResult(ctx, "search_decisions_fts", err), nil
	}
	if decs == nil {
		decs = []model.Decision{}
	}
	return jsonResult(map[string]any{"decisions": decs, "total": len(decs)})
}

func (s *Server) handleSearchCustomDataText(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	entries, err := s.items.SearchCustomDataText(ctx, ws,
		request.GetString("query_term", ""),
		request.GetString("category_filter", ""),
		request.GetInt("limit", 10),
	)
	if err != nil {
		return s.errorResult(ctx, "search_custom_data_value_fts", err), nil
	}
	if entries == nil {
		entries = []model.CustomData{}
	}
	return jsonResult(map[string]any{"custom_data": entries, "total": len(entries)})
}

func (s *Server) handleSearchGlossary(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	entries, err := s.items.SearchGlossary(ctx, ws, request.GetString("query_term", ""), request.GetInt("limit", 10))
	if err != nil {
		return s.errorResult(ctx, "search_project_glossary_fts", err), nil
	}
	if entries == nil {
		entries = []model.CustomData{}
	}
	return jsonResult(map[string]any{"terms": entries, "total": len(entries)})
}

func (s *Server) handleExportMarkdown(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	res, err := s.items.ExportMarkdown(ctx, ws, request.GetString("output_path", ""))
	if err != nil {
		return s.errorResult(ctx, "export_conport_to_markdown", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleImportMarkdown(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	res, err := s.items.ImportMarkdown(ctx, ws, request.GetString("input_path", ""))
	if err != nil {
		return s.errorResult(ctx, "import_markdown_to_conport", err), nil
	}
	return jsonResult(res)
}
