// Package approval decides whether a dangerous tool call may run.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"clawgate/internal/domain"
)

// Request describes one tool call awaiting a decision.
type Request struct {
	ToolName  string
	Arguments string
	ChannelID string
	SenderID  string
}

// Strategy decides a Request. An error counts as a denial.
type Strategy interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, req Request) (bool, error)

func (f StrategyFunc) Approve(ctx context.Context, req Request) (bool, error) { return f(ctx, req) }

// GateConfig configures a Gate.
type GateConfig struct {
	Default Strategy
	Auditor domain.AuditLogger
	Logger  *slog.Logger
}

// Gate routes dangerous tool calls to the strategy registered for their
// channel and fails closed whenever no decision can be obtained.
type Gate struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	def        Strategy
	auditor    domain.AuditLogger
	logger     *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		strategies: make(map[string]Strategy),
		def:        cfg.Default,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger,
	}
}

// Register binds a strategy to an exact channel ID ("telegram:42") or to a
// channel family ("telegram").
func (g *Gate) Register(channelID string, s Strategy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.strategies[channelID] = s
}

func (g *Gate) SetDefault(s Strategy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.def = s
}

// Check reports whether the call may proceed. Tools not flagged dangerous
// are always approved without consulting any strategy.
func (g *Gate) Check(ctx context.Context, def domain.ToolDefinition, args, channelID, senderID string) bool {
	if !def.Dangerous {
		return true
	}
	s := g.resolve(channelID)
	if s == nil {
		g.logger.Warn("no approval strategy, denying", "tool", def.Name, "channel", channelID)
		g.audit(ctx, def.Name, args, false, "no strategy for "+channelID)
		return false
	}

	approved, err := g.ask(ctx, s, Request{
		ToolName:  def.Name,
		Arguments: args,
		ChannelID: channelID,
		SenderID:  senderID,
	})
	if err != nil {
		g.logger.Warn("approval failed, denying", "tool", def.Name, "channel", channelID, "err", err)
		g.audit(ctx, def.Name, args, false, err.Error())
		return false
	}
	g.logger.Info("approval decision", "tool", def.Name, "channel", channelID, "sender", senderID, "approved", approved)
	g.audit(ctx, def.Name, args, approved, "")
	return approved
}

func (g *Gate) resolve(channelID string) Strategy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.strategies[channelID]; ok {
		return s
	}
	family, _, _ := strings.Cut(channelID, ":")
	if s, ok := g.strategies[family]; ok {
		return s
	}
	return g.def
}

func (g *Gate) ask(ctx context.Context, s Strategy, req Request) (approved bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			approved, err = false, fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return s.Approve(ctx, req)
}

func (g *Gate) audit(ctx context.Context, tool, args string, approved bool, details string) {
	if g.auditor == nil {
		return
	}
	entry := domain.AuditEntry{ToolName: tool, Command: args, Details: details}
	if approved {
		entry.Action, entry.Result = "approval_granted", "approved"
	} else {
		entry.Action, entry.Result = "approval_denied", "denied"
	}
	if err := g.auditor.LogAudit(ctx, entry); err != nil {
		g.logger.Warn("audit log failed", "err", err)
	}
}
