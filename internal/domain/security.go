package domain

import "context"

// AuditLogger records security-relevant decisions.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	Action   string // tool_exec | command_blocked | approval_granted | approval_denied
	ToolName string
	Command  string
	Result   string // allowed | blocked | approved | denied
	Details  string
}
