package tool

import (
	"context"
	"fmt"
	"strings"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

const defaultRecallLimit = 5

// MemoryStoreTool saves a note to long-term memory.
type MemoryStoreTool struct {
	store domain.MemoryStore
}

func NewMemoryStoreTool(store domain.MemoryStore) *MemoryStoreTool {
	return &MemoryStoreTool{store: store}
}

func (t *MemoryStoreTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "memory_store",
		Description: "Save a fact or note to long-term memory so it can be recalled in later conversations.",
		Parameters: Schema(
			map[string]Param{
				"content": {Type: "string", Description: "What to remember"},
				"tags":    {Type: "string", Description: "Optional comma-separated tags"},
			},
			[]string{"content"},
		),
	}
}

func (t *MemoryStoreTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	content := strings.TrimSpace(StringArg(args, "content"))
	if content == "" {
		return domain.Errorf("content is required")
	}
	tags := splitTags(args["tags"])
	if tc.SessionID != "" {
		tags = append(tags, "session:"+tc.SessionID)
	}
	id, err := t.store.Store(ctx, content, tags)
	if err != nil {
		return domain.Errorf("store memory: %v", err)
	}
	return domain.OK("Stored to memory (id " + id + ").")
}

// MemoryRecallTool searches long-term memory.
type MemoryRecallTool struct {
	store domain.MemoryStore
}

func NewMemoryRecallTool(store domain.MemoryStore) *MemoryRecallTool {
	return &MemoryRecallTool{store: store}
}

func (t *MemoryRecallTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "memory_recall",
		Description: "Search long-term memory for notes related to a query.",
		Parameters: Schema(
			map[string]Param{
				"query": {Type: "string", Description: "Keywords to search for"},
				"limit": {Type: "integer", Description: "Maximum results (default 5)"},
			},
			[]string{"query"},
		),
	}
}

func (t *MemoryRecallTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	query := strings.TrimSpace(StringArg(args, "query"))
	if query == "" {
		return domain.Errorf("query is required")
	}
	limit := IntArg(args, "limit", defaultRecallLimit)
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	entries, err := t.store.Recall(ctx, query, limit)
	if err != nil {
		return domain.Errorf("recall memory: %v", err)
	}
	if len(entries) == 0 {
		return domain.OK("No memories found.")
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s\n", e.ID, e.Content)
	}
	return domain.OK(sb.String())
}

// MemoryForgetTool deletes one memory by ID.
type MemoryForgetTool struct {
	store  domain.MemoryStore
	policy *security.Policy
}

func NewMemoryForgetTool(store domain.MemoryStore, policy *security.Policy) *MemoryForgetTool {
	return &MemoryForgetTool{store: store, policy: policy}
}

func (t *MemoryForgetTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "memory_forget",
		Description: "Delete a memory by its ID (as shown by memory_recall).",
		Parameters: Schema(
			map[string]Param{
				"memory_id": {Type: "string", Description: "ID of the memory to delete"},
			},
			[]string{"memory_id"},
		),
	}
}

func (t *MemoryForgetTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	if t.policy != nil {
		if err := t.policy.CheckRateLimit("memory_forget"); err != nil {
			return domain.Errorf("%v", err)
		}
	}
	id := strings.TrimSpace(StringArg(args, "memory_id"))
	if id == "" {
		return domain.Errorf("memory_id is required")
	}
	if err := t.store.Forget(ctx, id); err != nil {
		return domain.Errorf("forget memory: %v", err)
	}
	return domain.OK("Memory deleted: " + id)
}

// splitTags accepts either a JSON array of strings or a comma-separated string.
func splitTags(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	tags := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}

var (
	_ domain.Tool = (*MemoryStoreTool)(nil)
	_ domain.Tool = (*MemoryRecallTool)(nil)
	_ domain.Tool = (*MemoryForgetTool)(nil)
)
