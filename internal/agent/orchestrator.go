package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/metrics"
	"clawgate/internal/provider"
	"clawgate/internal/skill"
)

const (
	defaultConcurrency = 3

	// skillKickoff stands in for the user message when a skill trigger is sent alone.
	skillKickoff = "Start the conversation in your role."
)

// Orchestrator wraps the loop with session persistence, built-in commands
// and skill routing, and serves the message bus.
type Orchestrator struct {
	loop        *Loop
	sessions    domain.SessionStore
	skills      *skill.Registry
	logger      *slog.Logger
	concurrency int
	started     time.Time
}

// OrchestratorConfig configures the orchestrator. Sessions and Skills are optional.
type OrchestratorConfig struct {
	Loop        *Loop
	Sessions    domain.SessionStore
	Skills      *skill.Registry
	Logger      *slog.Logger
	Concurrency int // max messages processed at once (default 3)
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Orchestrator{
		loop:        cfg.Loop,
		sessions:    cfg.Sessions,
		skills:      cfg.Skills,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		started:     time.Now(),
	}
}

// Handle processes one inbound message synchronously: load the session,
// route skills, run the loop and save the updated history.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) (*Result, error) {
	sessionID := msg.ChannelID()
	metrics.MessagesTotal.Inc()

	if cmd := ParseCommand(msg.Content); cmd != nil {
		if reply, ok := o.handleCommand(ctx, sessionID, cmd); ok {
			return &Result{Content: reply}, nil
		}
	}

	history := o.loadHistory(ctx, sessionID)

	turn := Turn{
		UserMessage: msg.Content,
		History:     &history,
		SessionID:   sessionID,
		ChannelID:   msg.ChannelID(),
		SenderID:    msg.SenderID,
	}
	if o.skills != nil {
		if s, rest := o.skills.Match(msg.Content); s != nil {
			o.logger.Info("skill activated", "skill", s.Name, "session", sessionID)
			turn.SystemPrompt = s.SystemPrompt
			turn.AllowedTools = s.Tools
			if rest == "" {
				rest = skillKickoff
			}
			turn.UserMessage = rest
		}
	}

	metrics.ActiveTurns.Inc()
	res, err := o.loop.Execute(ctx, turn)
	metrics.ActiveTurns.Dec()
	if err != nil {
		if !errors.Is(err, ErrEmptyMessage) {
			metrics.TurnsFailed.Inc()
		}
		return nil, err
	}

	if o.sessions != nil {
		err := o.sessions.SaveSession(ctx, domain.Session{
			ID:        sessionID,
			SenderID:  msg.SenderID,
			ChannelID: msg.ChannelID(),
			Messages:  history,
		})
		if err != nil {
			o.logger.Warn("failed to save session", "session", sessionID, "err", err)
		}
	}

	o.logger.Info("turn completed",
		"session", sessionID,
		"provider", res.Provider,
		"model", res.Model,
		"tool_calls", len(res.ToolCalls),
		"total_tokens", res.Usage.TotalTokens,
	)
	return res, nil
}

func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) []domain.Message {
	if o.sessions == nil {
		return nil
	}
	history, err := o.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		o.logger.Warn("failed to load history, continuing without it", "session", sessionID, "err", err)
		return nil
	}
	return history
}

// Run consumes inbound messages and processes them with bounded concurrency
// until ctx is cancelled or the bus is closed. In-flight turns are awaited.
func (o *Orchestrator) Run(ctx context.Context, bus domain.MessageBus) {
	o.logger.Info("orchestrator started", "concurrency", o.concurrency)

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				o.logger.Info("inbound channel closed, orchestrator stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				o.reply(ctx, bus, m)
			}(msg)
		}
	}
}

func (o *Orchestrator) reply(ctx context.Context, bus domain.MessageBus, msg domain.InboundMessage) {
	res, err := o.Handle(ctx, msg)
	var content string
	switch {
	case err == nil:
		content = res.Content
	case errors.Is(err, ErrEmptyMessage):
		return
	default:
		o.logger.Error("message processing failed", "channel", msg.Channel, "sender", msg.SenderID, "err", err)
		content = userFacingError(err)
	}

	bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Format:  "markdown",
	})
}

func userFacingError(err error) string {
	var exhausted *provider.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Sprintf("Sorry, no model is reachable right now (%d attempts failed). Please try again later.", len(exhausted.Failures))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Sorry, the request was cancelled."
	}
	return "Sorry, I encountered an error: " + err.Error()
}
