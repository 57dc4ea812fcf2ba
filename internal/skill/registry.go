// Package skill loads slash-command skills and routes messages to them.
package skill

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"clawgate/internal/domain"
)

// Registry maps triggers (without the leading slash) to skills.
type Registry struct {
	mu        sync.RWMutex
	byTrigger map[string]domain.Skill
	order     []string
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byTrigger: make(map[string]domain.Skill),
		logger:    logger,
	}
}

// Register adds a skill. A trigger may only be claimed once.
func (r *Registry) Register(s domain.Skill) error {
	trigger := strings.TrimPrefix(strings.TrimSpace(s.Trigger), "/")
	if trigger == "" {
		return fmt.Errorf("skill %q has no trigger", s.Name)
	}
	if strings.IndexFunc(trigger, unicode.IsSpace) >= 0 {
		return fmt.Errorf("skill %q: trigger %q contains whitespace", s.Name, trigger)
	}
	s.Trigger = trigger

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byTrigger[trigger]; ok {
		return fmt.Errorf("trigger /%s already used by skill %q", trigger, prev.Name)
	}
	r.byTrigger[trigger] = s
	r.order = append(r.order, trigger)
	r.logger.Debug("skill registered", "name", s.Name, "trigger", "/"+trigger)
	return nil
}

// Match returns the skill whose trigger starts the message, and the message
// with the trigger stripped. Returns nil when no skill applies.
func (r *Registry) Match(message string) (*domain.Skill, string) {
	msg := strings.TrimLeftFunc(message, unicode.IsSpace)
	if !strings.HasPrefix(msg, "/") {
		return nil, message
	}

	cmd, rest := msg[1:], ""
	if i := strings.IndexFunc(cmd, unicode.IsSpace); i >= 0 {
		cmd, rest = cmd[:i], strings.TrimSpace(cmd[i:])
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTrigger[cmd]
	if !ok {
		return nil, message
	}
	return &s, rest
}

// List returns skills in registration order.
func (r *Registry) List() []domain.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Skill, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.byTrigger[t])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
