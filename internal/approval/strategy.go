package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Auto returns a strategy that always answers decision.
func Auto(decision bool) Strategy {
	return StrategyFunc(func(context.Context, Request) (bool, error) { return decision, nil })
}

// Interactive asks on a terminal. Only "y" or "yes" approves; anything
// else, including EOF, denies.
type Interactive struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{in: bufio.NewReader(in), out: out}
}

func (s *Interactive) Approve(ctx context.Context, req Request) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.out, "[APPROVAL] Tool '%s' requires confirmation.\n", req.ToolName)
	fmt.Fprintf(s.out, "  Arguments: %s\n", req.Arguments)
	fmt.Fprint(s.out, "  Allow? (y/n): ")

	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("read approval: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ByName builds one of the stateless strategies from its config name.
func ByName(name string, in io.Reader, out io.Writer) (Strategy, error) {
	switch name {
	case "auto", "auto-approve":
		return Auto(true), nil
	case "deny", "auto-deny":
		return Auto(false), nil
	case "cli", "interactive":
		return NewInteractive(in, out), nil
	default:
		return nil, fmt.Errorf("unknown approval strategy %q", name)
	}
}
