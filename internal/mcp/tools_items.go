package mcp

import (
	"context"
	"sort"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/service/items"
)

func tagsArg(desc string) mcplib.ToolOption {
	return mcplib.WithArray("tags", mcplib.Description(desc), mcplib.WithStringItems())
}

func limitArg(def int) mcplib.ToolOption {
	return mcplib.WithNumber("limit",
		mcplib.Description("Maximum results to return"),
		mcplib.Min(1),
		mcplib.Max(100),
		mcplib.DefaultNumber(float64(def)),
	)
}

func (s *Server) registerDecisionTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("log_decision",
			mcplib.WithDescription(`Logs an architectural or implementation decision.

WHEN TO USE: after committing to an approach, so later sessions can find out
what was decided and why.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("summary", mcplib.Description("A concise summary of the decision"), mcplib.Required()),
			mcplib.WithString("rationale", mcplib.Description("Why the decision was made")),
			mcplib.WithString("implementation_details", mcplib.Description("How the decision is implemented")),
			tagsArg("Optional tags for categorization"),
		),
		s.handleLogDecision,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_decisions",
			mcplib.WithDescription("Retrieves logged decisions, newest first, optionally filtered by tags."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			limitArg(50),
			mcplib.WithArray("tags_filter_include_all", mcplib.Description("Decisions must have ALL of these tags"), mcplib.WithStringItems()),
			mcplib.WithArray("tags_filter_include_any", mcplib.Description("Decisions must have AT LEAST ONE of these tags"), mcplib.WithStringItems()),
		),
		s.handleGetDecisions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("delete_decision_by_id",
			mcplib.WithDescription("Deletes a decision by its ID."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithNumber("decision_id", mcplib.Description("ID of the decision to delete"), mcplib.Required(), mcplib.Min(1)),
		),
		s.handleDeleteDecision,
	)
}

func (s *Server) registerProgressTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("log_progress",
			mcplib.WithDescription(`Logs a progress entry or task status.

Entries form a tree through parent_id. Naming linked_item_type and
linked_item_id also links the new entry to that item.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("status", mcplib.Description("Current status, e.g. TODO, IN_PROGRESS, DONE"), mcplib.Required()),
			mcplib.WithString("description", mcplib.Description("Description of the task or progress"), mcplib.Required()),
			mcplib.WithNumber("parent_id", mcplib.Description("ID of the parent task"), mcplib.Min(1)),
			mcplib.WithString("linked_item_type", mcplib.Description("Type of an item to link, e.g. decision")),
			mcplib.WithString("linked_item_id", mcplib.Description("ID or key of the item to link")),
			mcplib.WithString("link_relationship_type",
				mcplib.Description("Relationship type of the automatic link"),
				mcplib.DefaultString(items.DefaultProgressRelationship),
			),
		),
		s.handleLogProgress,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_progress",
			mcplib.WithDescription("Retrieves progress entries, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("status_filter", mcplib.Description("Only entries with this status")),
			mcplib.WithNumber("parent_id_filter", mcplib.Description("Only children of this entry"), mcplib.Min(1)),
			mcplib.WithString("since", mcplib.Description("Only entries logged at or after this RFC 3339 timestamp")),
			limitArg(50),
		),
		s.handleGetProgress,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("update_progress",
			mcplib.WithDescription("Updates the status, description or parent of a progress entry."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithNumber("progress_id", mcplib.Description("ID of the entry to update"), mcplib.Required(), mcplib.Min(1)),
			mcplib.WithString("status", mcplib.Description("New status")),
			mcplib.WithString("description", mcplib.Description("New description")),
			mcplib.WithNumber("parent_id", mcplib.Description("New parent entry ID"), mcplib.Min(1)),
		),
		s.handleUpdateProgress,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("delete_progress_by_id",
			mcplib.WithDescription("Deletes a progress entry together with all of its sub-tasks."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithNumber("progress_id", mcplib.Description("ID of the entry to delete"), mcplib.Required(), mcplib.Min(1)),
		),
		s.handleDeleteProgress,
	)
}

func (s *Server) registerPatternTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("log_system_pattern",
			mcplib.WithDescription("Logs or updates a system or coding pattern. Patterns are keyed by name."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("name", mcplib.Description("Unique name of the pattern"), mcplib.Required()),
			mcplib.WithString("description", mcplib.Description("Description of the pattern")),
			tagsArg("Optional tags for categorization"),
		),
		s.handleLogPattern,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_system_patterns",
			mcplib.WithDescription("Retrieves system patterns, optionally filtered by tags."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			limitArg(50),
			mcplib.WithArray("tags_filter_include_all", mcplib.Description("Patterns must have ALL of these tags"), mcplib.WithStringItems()),
			mcplib.WithArray("tags_filter_include_any", mcplib.Description("Patterns must have AT LEAST ONE of these tags"), mcplib.WithStringItems()),
		),
		s.handleGetPatterns,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("delete_system_pattern_by_id",
			mcplib.WithDescription("Deletes a system pattern by its ID."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithNumber("pattern_id", mcplib.Description("ID of the pattern to delete"), mcplib.Required(), mcplib.Min(1)),
		),
		s.handleDeletePattern,
	)
}

func (s *Server) registerCustomDataTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("log_custom_data",
			mcplib.WithDescription("Stores or replaces a JSON value under a category and key."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("category", mcplib.Description("Category of the entry"), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Key of the entry, unique within its category"), mcplib.Required()),
			mcplib.WithAny("value", mcplib.Description("Any JSON value"), mcplib.Required()),
		),
		s.handleLogCustomData,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_custom_data",
			mcplib.WithDescription("Retrieves custom data. With a key, returns that entry; otherwise every entry of the category, or of all categories when none is given."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("category", mcplib.Description("Filter by category")),
			mcplib.WithString("key", mcplib.Description("Filter by key (requires category)")),
		),
		s.handleGetCustomData,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("delete_custom_data",
			mcplib.WithDescription("Deletes the custom data entry under a category and key."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("category", mcplib.Description("Category of the entry"), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Key of the entry"), mcplib.Required()),
		),
		s.handleDeleteCustomData,
	)
}

func (s *Server) registerLinkTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("link_conport_items",
			mcplib.WithDescription("Creates a relationship link between two items, e.g. a decision implemented_by a progress entry."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("source_item_type", mcplib.Description("Type of the source item"), mcplib.Required()),
			mcplib.WithString("source_item_id", mcplib.Description("ID or key of the source item"), mcplib.Required()),
			mcplib.WithString("target_item_type", mcplib.Description("Type of the target item"), mcplib.Required()),
			mcplib.WithString("target_item_id", mcplib.Description("ID or key of the target item"), mcplib.Required()),
			mcplib.WithString("relationship_type", mcplib.Description("Nature of the link, e.g. implements, blocks"), mcplib.Required()),
			mcplib.WithString("description", mcplib.Description("Optional note about the link")),
		),
		s.handleLinkItems,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_linked_items",
			mcplib.WithDescription("Retrieves the links in which an item is either source or target."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("item_type", mcplib.Description("Type of the item"), mcplib.Required()),
			mcplib.WithString("item_id", mcplib.Description("ID or key of the item"), mcplib.Required()),
			limitArg(50),
		),
		s.handleLinkedItems,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("batch_log_items",
			mcplib.WithDescription(`Logs several items of one type in a single call.

Each item carries the fields of the matching log tool (without workspace_id).
Invalid items are reported by index; valid ones are still logged.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("item_type",
				mcplib.Description("Type of the items"),
				mcplib.Enum(itemTypeNames()...),
				mcplib.Required(),
			),
			mcplib.WithArray("items",
				mcplib.Description("The items to log"),
				mcplib.Items(map[string]any{"type": "object"}),
				mcplib.Required(),
			),
		),
		s.handleBatchLog,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_recent_activity_summary",
			mcplib.WithDescription("Summarizes the most recent decisions, progress entries and system patterns."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithNumber("limit_per_type",
				mcplib.Description("Maximum items of each type"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleRecentActivity,
	)
}

func itemTypeNames() []string {
	return []string{
		string(model.ItemDecision),
		string(model.ItemProgress),
		string(model.ItemSystemPattern),
		string(model.ItemCustomData),
	}
}

func (s *Server) handleLogDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	d, err := s.items.LogDecision(ctx, ws, model.Decision{
		Summary:               request.GetString("summary", ""),
		Rationale:             request.GetString("rationale", ""),
		ImplementationDetails: request.GetString("implementation_details", ""),
		Tags:                  request.GetStringSlice("tags", nil),
	})
	if err != nil {
		return s.errorResult(ctx, "log_decision", err), nil
	}
	return jsonResult(d)
}

func (s *Server) handleGetDecisions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	decs, err := s.items.ListDecisions(ctx, ws, model.DecisionFilter{
		Limit:   request.GetInt("limit", 50),
		TagsAll: request.GetStringSlice("tags_filter_include_all", nil),
		TagsAny: request.GetStringSlice("tags_filter_include_any", nil),
	})
	if err != nil {
		return s.errorResult(ctx, "get_decisions", err), nil
	}
	if decs == nil {
		decs = []model.Decision{}
	}
	return jsonResult(map[string]any{"decisions": decs, "total": len(decs)})
}

func (s *Server) handleDeleteDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	id, errRes := idArg(request, "decision_id")
	if errRes != nil {
		return errRes, nil
	}
	if err := s.items.DeleteDecision(ctx, ws, id); err != nil {
		return s.errorResult(ctx, "delete_decision_by_id", err), nil
	}
	return jsonResult(map[string]any{"status": "deleted", "decision_id": id})
}

func (s *Server) handleLogProgress(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	parent, errRes := optionalID(request, "parent_id")
	if errRes != nil {
		return errRes, nil
	}
	p, err := s.items.LogProgress(ctx, ws, items.ProgressInput{
		Status:           request.GetString("status", ""),
		Description:      request.GetString("description", ""),
		ParentID:         parent,
		LinkedItemType:   request.GetString("linked_item_type", ""),
		LinkedItemID:     request.GetString("linked_item_id", ""),
		LinkRelationship: request.GetString("link_relationship_type", ""),
	})
	if err != nil {
		return s.errorResult(ctx, "log_progress", err), nil
	}
	return jsonResult(p)
}

func (s *Server) handleGetProgress(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	f := model.ProgressFilter{
		Limit:  request.GetInt("limit", 50),
		Status: request.GetString("status_filter", ""),
	}
	if f.ParentID, errRes = optionalID(request, "parent_id_filter"); errRes != nil {
		return errRes, nil
	}
	if f.Since, errRes = optionalTime(request, "since"); errRes != nil {
		return errRes, nil
	}
	entries, err := s.items.ListProgress(ctx, ws, f)
	if err != nil {
		return s.errorResult(ctx, "get_progress", err), nil
	}
	if entries == nil {
		entries = []model.ProgressEntry{}
	}
	return jsonResult(map[string]any{"progress": entries, "total": len(entries)})
}

func (s *Server) handleUpdateProgress(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	id, errRes := idArg(request, "progress_id")
	if errRes != nil {
		return errRes, nil
	}
	u := model.ProgressUpdate{
		Status:      optionalString(request, "status"),
		Description: optionalString(request, "description"),
	}
	if u.ParentID, errRes = optionalID(request, "parent_id"); errRes != nil {
		return errRes, nil
	}
	p, err := s.items.UpdateProgress(ctx, ws, id, u)
	if err != nil {
		return s.errorResult(ctx, "update_progress", err), nil
	}
	return jsonResult(p)
}

func (s *Server) handleDeleteProgress(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	id, errRes := idArg(request, "progress_id")
	if errRes != nil {
		return errRes, nil
	}
	removed, err := s.items.DeleteProgress(ctx, ws, id)
	if err != nil {
		return s.errorResult(ctx, "delete_progress_by_id", err), nil
	}
	return jsonResult(map[string]any{"status": "deleted", "progress_id": id, "deleted_ids": removed})
}

func (s *Server) handleLogPattern(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	p, err := s.items.LogSystemPattern(ctx, ws, model.SystemPattern{
		Name:        request.GetString("name", ""),
		Description: request.GetString("description", ""),
		Tags:        request.GetStringSlice("tags", nil),
	})
	if err != nil {
		return s.errorResult(ctx, "log_system_pattern", err), nil
	}
	return jsonResult(p)
}

func (s *Server) handleGetPatterns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	patterns, err := s.items.ListSystemPatterns(ctx, ws,
		request.GetInt("limit", 50),
		request.GetStringSlice("tags_filter_include_all", nil),
		request.GetStringSlice("tags_filter_include_any", nil),
	)
	if err != nil {
		return s.errorResult(ctx, "get_system_patterns", err), nil
	}
	if patterns == nil {
		patterns = []model.SystemPattern{}
	}
	return jsonResult(map[string]any{"system_patterns": patterns, "total": len(patterns)})
}

func (s *Server) handleDeletePattern(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	id, errRes := idArg(request, "pattern_id")
	if errRes != nil {
		return errRes, nil
	}
	if err := s.items.DeleteSystemPattern(ctx, ws, id); err != nil {
		return s.errorResult(ctx, "delete_system_pattern_by_id", err), nil
	}
	return jsonResult(map[string]any{"status": "deleted", "pattern_id": id})
}

func (s *Server) handleLogCustomData(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	value, ok := request.GetArguments()["value"]
	if !ok {
		return invalidArgument("value is required"), nil
	}
	c, err := s.items.UpsertCustomData(ctx, ws, model.CustomData{
		Category: request.GetString("category", ""),
		Key:      request.GetString("key", ""),
		Value:    value,
	})
	if err != nil {
		return s.errorResult(ctx, "log_custom_data", err), nil
	}
	return jsonResult(c)
}

func (s *Server) handleGetCustomData(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	category := request.GetString("category", "")
	key := request.GetString("key", "")
	if key != "" {
		if category == "" {
			return invalidArgument("key requires category"), nil
		}
		c, err := s.items.GetCustomData(ctx, ws, category, key)
		if err != nil {
			return s.errorResult(ctx, "get_custom_data", err), nil
		}
		return jsonResult([]model.CustomData{c})
	}
	entries, err := s.items.ListCustomData(ctx, ws, category)
	if err != nil {
		return s.errorResult(ctx, "get_custom_data", err), nil
	}
	if entries == nil {
		entries = []model.CustomData{}
	}
	return jsonResult(entries)
}

func (s *Server) handleDeleteCustomData(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	category := request.GetString("category", "")
	key := request.GetString("key", "")
	if err := s.items.DeleteCustomData(ctx, ws, category, key); err != nil {
		return s.errorResult(ctx, "delete_custom_data", err), nil
	}
	return jsonResult(map[string]any{"status": "deleted", "category": category, "key": key})
}

func (s *Server) handleLinkItems(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	l, err := s.items.Link(ctx, ws, model.ContextLink{
		SourceItemType:   request.GetString("source_item_type", ""),
		SourceItemID:     request.GetString("source_item_id", ""),
		TargetItemType:   request.GetString("target_item_type", ""),
		TargetItemID:     request.GetString("target_item_id", ""),
		RelationshipType: request.GetString("relationship_type", ""),
		Description:      request.GetString("description", ""),
	})
	if err != nil {
		return s.errorResult(ctx, "link_conport_items", err), nil
	}
	return jsonResult(l)
}

func (s *Server) handleLinkedItems(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	links, err := s.items.LinkedItems(ctx, ws,
		request.GetString("item_type", ""),
		request.GetString("item_id", ""),
		request.GetInt("limit", 50),
	)
	if err != nil {
		return s.errorResult(ctx, "get_linked_items", err), nil
	}
	if links == nil {
		links = []model.ContextLink{}
	}
	return jsonResult(links)
}

func (s *Server) handleBatchLog(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	t, err := model.ParseItemType(request.GetString("item_type", ""))
	if err != nil {
		return invalidArgument("%v", err), nil
	}
	list, err := objectList(request, "items")
	if err != nil {
		return invalidArgument("%v", err), nil
	}
	res, err := s.items.BatchLog(ctx, ws, t, list)
	if err != nil {
		return s.errorResult(ctx, "batch_log_items", err), nil
	}
	if res.Failed > 0 {
		return encodeError(toolError{
			Code:    CodeInvalidArgument,
			Error:   "some items failed validation",
			Details: res,
		}), nil
	}
	return jsonResult(res)
}

func (s *Server) handleRecentActivity(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	sum, err := s.items.RecentActivity(ctx, ws, request.GetInt("limit_per_type", 5))
	if err != nil {
		return s.errorResult(ctx, "get_recent_activity_summary", err), nil
	}
	if sum.Decisions == nil {
		sum.Decisions = []model.Decision{}
	}
	if sum.Progress == nil {
		sum.Progress = []model.ProgressEntry{}
	}
	if sum.SystemPatterns == nil {
		sum.SystemPatterns = []model.SystemPattern{}
	}
	return jsonResult(sum)
}

func (s *Server) registerSearchTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("semantic_search_conport",
			mcplib.WithDescription(`Searches decisions, progress, system patterns and custom data by meaning.

EXAMPLE QUERIES:
- "How do we store workspace data?"
- "Open tasks about provisioning"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			workspaceArg(),
			mcplib.WithString("query_text", mcplib.Description("The natural language query"), mcplib.Required()),
			mcplib.WithNumber("top_k",
				mcplib.Description("Number of results to return"),
				mcplib.Min(1),
				mcplib.Max(25),
				mcplib.DefaultNumber(5),
			),
			mcplib.WithArray("filter_item_types",
				mcplib.Description("Only these item types, e.g. [\"decision\", \"progress\"]"),
				mcplib.WithStringItems(mcplib.Enum(itemTypeNames()...)),
			),
			mcplib.WithArray("filter_tags_include_any", mcplib.Description("Results must have AT LEAST ONE of these tags"), mcplib.WithStringItems()),
			mcplib.WithArray("filter_tags_include_all", mcplib.Description("Results must have ALL of these tags"), mcplib.WithStringItems()),
			mcplib.WithArray("filter_custom_data_categories",
				mcplib.Description("Only custom data in these categories. Other item types carry no category and are excluded."),
				mcplib.WithStringItems(),
			),
		),
		s.handleSemanticSearch,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_conport_schema",
			mcplib.WithDescription("Lists the available tools and their argument schemas."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleSchema,
	)
}

type searchResult struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleSemanticSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ws, errRes := requireWorkspace(request)
	if errRes != nil {
		return errRes, nil
	}
	hits, err := s.items.Search(ctx, ws, items.SearchQuery{
		Text:       request.GetString("query_text", ""),
		TopK:       request.GetInt("top_k", 5),
		ItemTypes:  request.GetStringSlice("filter_item_types", nil),
		TagsAny:    request.GetStringSlice("filter_tags_include_any", nil),
		TagsAll:    request.GetStringSlice("filter_tags_include_all", nil),
		Categories: request.GetStringSlice("filter_custom_data_categories", nil),
	})
	if err != nil {
		return s.errorResult(ctx, "semantic_search_conport", err), nil
	}
	results := make([]searchResult, len(hits))
	for i, h := range hits {
		results[i] = searchResult{ID: h.ID, Score: h.Score, Metadata: h.Metadata}
	}
	return jsonResult(map[string]any{"results": results, "total": len(results)})
}

func (s *Server) handleSchema(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	tools := s.mcpServer.ListTools()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := make(map[string]any, len(names))
	for _, name := range names {
		t := tools[name].Tool
		schema[name] = map[string]any{
			"description": t.Description,
			"arguments":   t.InputSchema,
		}
	}
	return jsonResult(map[string]any{"tools": names, "schemas": schema})
}
