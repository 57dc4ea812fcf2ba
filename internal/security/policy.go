package security

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
)

const (
	// MaxFileSize is the largest regular file ValidatePath accepts when a
	// size check is requested.
	MaxFileSize = 10 * 1024 * 1024

	DefaultMaxActionsPerHour = 120
)

var (
	ErrPathViolation   = errors.New("path violation")
	ErrDomainViolation = errors.New("domain violation")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// Violation describes why a path or URL was rejected.
type Violation struct {
	Kind   error // ErrPathViolation or ErrDomainViolation
	Target string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Reason, v.Target)
}

func (v *Violation) Unwrap() error { return v.Kind }

func pathErr(target, reason string) error {
	return &Violation{Kind: ErrPathViolation, Target: target, Reason: reason}
}

func domainErr(target, reason string) error {
	return &Violation{Kind: ErrDomainViolation, Target: target, Reason: reason}
}

// Config configures a Policy.
type Config struct {
	Workspace         string
	WorkspaceOnly     bool
	MaxActionsPerHour int
	AllowedDomains    []string
	Resolver          Resolver // defaults to net.DefaultResolver
	Logger            *slog.Logger
}

// Policy is the process-wide security policy shared by every tool and turn.
// All methods are safe for concurrent use.
type Policy struct {
	root           string
	workspaceOnly  bool
	allowedDomains []string
	resolver       Resolver
	tracker        *ActionTracker
	logger         *slog.Logger
}

func NewPolicy(cfg Config) (*Policy, error) {
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	root, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if cfg.MaxActionsPerHour <= 0 {
		cfg.MaxActionsPerHour = DefaultMaxActionsPerHour
	}
	if cfg.Resolver == nil {
		cfg.Resolver = net.DefaultResolver
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Policy{
		root:           filepath.Clean(root),
		workspaceOnly:  cfg.WorkspaceOnly,
		allowedDomains: cfg.AllowedDomains,
		resolver:       cfg.Resolver,
		tracker:        NewActionTracker(cfg.MaxActionsPerHour),
		logger:         cfg.Logger,
	}, nil
}

// Workspace returns the absolute workspace root.
func (p *Policy) Workspace() string { return p.root }

// CheckRateLimit records one action for toolName, or returns a
// *RateLimitError when the hourly ceiling has been reached.
func (p *Policy) CheckRateLimit(toolName string) error {
	if err := p.tracker.Track(toolName); err != nil {
		p.logger.Warn("rate limit hit", "tool", toolName)
		return err
	}
	return nil
}

// ActionCount returns how many actions toolName performed in the last hour.
func (p *Policy) ActionCount(toolName string) int {
	return p.tracker.Count(toolName)
}
