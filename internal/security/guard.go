package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"clawgate/internal/domain"
)

// DefaultBlocklist holds command fragments the native executor never runs.
var DefaultBlocklist = []string{"rm -rf /", "mkfs", "dd if=", ":(){ :|:&", "shutdown", "reboot"}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Blocklist entries are case-insensitive substrings, or regular
	// expressions when prefixed with "re:".
	Blocklist []string
	AuditLog  bool
	Auditor   domain.AuditLogger
	Logger    *slog.Logger
}

// Guard rejects commands matching the blocklist and forwards security
// decisions to the audit log.
type Guard struct {
	blocklist []pattern
	audit     bool
	auditor   domain.AuditLogger
	logger    *slog.Logger
}

func NewGuard(cfg GuardConfig) (*Guard, error) {
	res, err := compilePatterns(cfg.Blocklist)
	if err != nil {
		return nil, fmt.Errorf("invalid blocklist pattern: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		blocklist: res,
		audit:     cfg.AuditLog,
		auditor:   cfg.Auditor,
		logger:    cfg.Logger,
	}, nil
}

// Blocked reports the pattern a command matches, if any.
func (g *Guard) Blocked(ctx context.Context, toolName, command string) (string, bool) {
	cmd := strings.TrimSpace(command)
	for _, p := range g.blocklist {
		if p.re.MatchString(cmd) {
			g.logger.Warn("command blocked",
				"tool", toolName,
				"command", cmd,
				"pattern", p.src,
			)
			g.Record(ctx, domain.AuditEntry{
				Action:   "command_blocked",
				ToolName: toolName,
				Command:  cmd,
				Result:   "blocked",
				Details:  "blocklist match: " + p.src,
			})
			return p.src, true
		}
	}
	return "", false
}

// Record writes an audit entry when auditing is enabled. Failures are logged
// and never surface to the caller.
func (g *Guard) Record(ctx context.Context, entry domain.AuditEntry) {
	if g == nil || !g.audit || g.auditor == nil {
		return
	}
	if err := g.auditor.LogAudit(ctx, entry); err != nil {
		g.logger.Warn("audit log failed", "action", entry.Action, "err", err)
	}
}

type pattern struct {
	src string
	re  *regexp.Regexp
}

func compilePatterns(patterns []string) ([]pattern, error) {
	compiled := make([]pattern, 0, len(patterns))
	for _, p := range patterns {
		var re *regexp.Regexp
		var err error
		if expr, ok := strings.CutPrefix(p, "re:"); ok {
			re, err = regexp.Compile(expr)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, pattern{src: p, re: re})
	}
	return compiled, nil
}
