package agent

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"clawgate/internal/domain"
)

// PromptBuilder assembles the message list sent to the model.
type PromptBuilder struct {
	workspace string
	extra     string
	now       func() time.Time
}

// PromptConfig holds configuration for the prompt builder.
type PromptConfig struct {
	Workspace string
	// Extra is appended to the default system prompt as custom instructions.
	Extra string
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	ws := cfg.Workspace
	if abs, err := filepath.Abs(ws); err == nil && ws != "" {
		ws = abs
	}
	return &PromptBuilder{workspace: ws, extra: strings.TrimSpace(cfg.Extra), now: time.Now}
}

// SystemPrompt returns the default system prompt.
func (p *PromptBuilder) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(`# clawgate

You are a coding agent with direct access to the user's machine through tools. You can:
- Run shell commands in the workspace
- Read, write and list files in the workspace
- Run git operations
- Search the web and make HTTP requests to approved domains
- Store, recall and forget long-term memories

## RULES
1. When the user asks you to DO something, use the tools. Never say you cannot act without trying first.
2. Some tools need the user's approval. If a tool result says it was not approved, do not retry it; explain what you would have done.
3. Paths are relative to the workspace. Do not try to escape it.
4. Present results clearly and reply in the same language the user writes in.
`)
	fmt.Fprintf(&b, "\n## Runtime\n%s/%s, %s\n", runtime.GOOS, runtime.GOARCH, p.now().Format("2006-01-02 15:04 (Monday)"))
	if p.workspace != "" {
		fmt.Fprintf(&b, "\n## Workspace\n%s\n", p.workspace)
	}
	if p.extra != "" {
		b.WriteString("\n## Custom Instructions\n")
		b.WriteString(p.extra)
		b.WriteByte('\n')
	}
	return b.String()
}

// BuildMessages constructs [system + history + user message] for a model call.
// An empty override selects the default system prompt.
func (p *PromptBuilder) BuildMessages(override string, history []domain.Message, userMessage string) []domain.Message {
	system := override
	if strings.TrimSpace(system) == "" {
		system = p.SystemPrompt()
	}

	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: userMessage})
	return messages
}

// WithMemories prefixes the user message with recalled memory snippets.
func WithMemories(userMessage string, memories []domain.MemoryEntry) string {
	if len(memories) == 0 {
		return userMessage
	}
	var b strings.Builder
	b.WriteString("[Recalled memories]\n")
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("\n[User message]\n")
	b.WriteString(userMessage)
	return b.String()
}
