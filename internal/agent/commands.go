package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"clawgate/internal/metrics"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
}

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return nil
	}
	return &ChatCommand{
		Name: strings.ToLower(strings.TrimPrefix(parts[0], "/")),
		Args: parts[1:],
	}
}

// version is set by the build system.
var version = "dev"

func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// handleCommand answers the built-in commands without calling the model.
// Unrecognised commands report false so skills and the model can see them.
func (o *Orchestrator) handleCommand(ctx context.Context, sessionID string, cmd *ChatCommand) (string, bool) {
	switch cmd.Name {
	case "help":
		return o.helpText(), true

	case "new", "clear":
		if o.sessions != nil {
			if err := o.sessions.DeleteSession(ctx, sessionID); err != nil {
				o.logger.Warn("failed to clear session", "session", sessionID, "err", err)
				return "Could not clear the conversation, see logs.", true
			}
		}
		return "Conversation cleared. Starting fresh.", true

	case "tools":
		return o.toolsText(), true

	case "skills":
		return o.skillsText(), true

	case "status":
		return o.statusText(), true
	}
	return "", false
}

func (o *Orchestrator) helpText() string {
	var sb strings.Builder
	sb.WriteString(`clawgate commands

/help - Show this help message
/new - Start a new conversation (clear history)
/clear - Same as /new
/tools - List available tools
/skills - List skills
/status - Show gateway status
`)
	if o.skills != nil && o.skills.Len() > 0 {
		sb.WriteString("\nSkills:\n")
		for _, s := range o.skills.List() {
			fmt.Fprintf(&sb, "/%s - %s\n", s.Trigger, s.Description)
		}
	}
	return sb.String()
}

func (o *Orchestrator) toolsText() string {
	defs := o.loop.tools.Definitions()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Available tools (%d)\n\n", len(defs))
	for _, d := range defs {
		marker := ""
		if d.Dangerous {
			marker = " [approval required]"
		}
		fmt.Fprintf(&sb, "- %s%s: %s\n", d.Name, marker, d.Description)
	}
	return sb.String()
}

func (o *Orchestrator) skillsText() string {
	if o.skills == nil || o.skills.Len() == 0 {
		return "No skills loaded."
	}
	var sb strings.Builder
	for _, s := range o.skills.List() {
		tools := "all tools"
		if s.Tools != nil {
			tools = strings.Join(s.Tools, ", ")
			if tools == "" {
				tools = "no tools"
			}
		}
		fmt.Fprintf(&sb, "/%s (%s): %s [%s]\n", s.Trigger, s.Name, s.Description, tools)
	}
	return sb.String()
}

func (o *Orchestrator) statusText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "clawgate %s\n\n", version)
	fmt.Fprintf(&sb, "Provider: %s\n", o.loop.provider.Name())
	fmt.Fprintf(&sb, "Tools: %d registered\n", o.loop.tools.Len())
	if o.skills != nil {
		fmt.Fprintf(&sb, "Skills: %d loaded\n", o.skills.Len())
	}
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(o.started).Round(time.Second))
	fmt.Fprintf(&sb, "Messages: %d (%d failed, %d in progress)\n",
		metrics.MessagesTotal.Value(), metrics.TurnsFailed.Value(), metrics.ActiveTurns.Value())
	fmt.Fprintf(&sb, "Model calls: %d (avg %.1fs)\n", metrics.LLMRequestsTotal.Value(), metrics.LLMLatency.Mean())
	fmt.Fprintf(&sb, "Tool calls: %d\n", metrics.Collector.Sum(metrics.ToolExecutions))
	fmt.Fprintf(&sb, "Dropped inbound: %d\n", metrics.BusDropped.Value())
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return sb.String()
}
