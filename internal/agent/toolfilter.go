package agent

import "clawgate/internal/domain"

// ToolFilter restricts a turn to a subset of the registered tools.
type ToolFilter struct {
	allowed map[string]bool // nil means every tool is allowed
}

// NewToolFilter creates a filter from an allow list. A nil list allows every
// tool; an empty non-nil list allows none.
func NewToolFilter(allowed []string) *ToolFilter {
	if allowed == nil {
		return &ToolFilter{}
	}
	tf := &ToolFilter{allowed: make(map[string]bool, len(allowed))}
	for _, t := range allowed {
		tf.allowed[t] = true
	}
	return tf
}

// FilterDefinitions keeps the definitions that pass the filter, preserving order.
// The result is nil when nothing passes, so the tools block is omitted.
func (tf *ToolFilter) FilterDefinitions(defs []domain.ToolDefinition) []domain.ToolDefinition {
	var filtered []domain.ToolDefinition
	for _, d := range defs {
		if tf.IsAllowed(d.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf == nil || tf.allowed == nil {
		return true
	}
	return tf.allowed[name]
}
