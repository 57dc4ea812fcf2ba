package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long a remote approval waits for an answer.
const DefaultTimeout = 60 * time.Second

// ErrExpired is returned when no answer arrived before the timeout.
var ErrExpired = errors.New("approval request expired")

// Transport posts an approval prompt with approve/deny buttons to a chat.
// Button callbacks must carry CallbackData values for the request ID.
type Transport interface {
	SendApproval(ctx context.Context, chatID, requestID, prompt string) error
}

// RemoteConfig configures a Remote strategy.
type RemoteConfig struct {
	Transport Transport
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Remote asks the user over a chat transport and waits for the button
// press to be reported back through Resolve.
type Remote struct {
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

type pendingApproval struct {
	sender string
	result chan bool
}

func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Remote{
		transport: cfg.Transport,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		pending:   make(map[string]*pendingApproval),
	}
}

func (r *Remote) Approve(ctx context.Context, req Request) (bool, error) {
	chatID := req.ChannelID
	if _, after, ok := strings.Cut(req.ChannelID, ":"); ok {
		chatID = after
	}
	if strings.TrimSpace(chatID) == "" {
		return false, fmt.Errorf("no chat to ask in channel %q", req.ChannelID)
	}

	id := uuid.New().String()
	p := &pendingApproval{sender: req.SenderID, result: make(chan bool, 1)}
	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()
	defer r.remove(id)

	prompt := fmt.Sprintf("[APPROVAL] Tool '%s'\nArgs: %s\n%ds timeout", req.ToolName, req.Arguments, int(r.timeout.Seconds()))
	if err := r.transport.SendApproval(ctx, chatID, id, prompt); err != nil {
		return false, fmt.Errorf("send approval: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case approved := <-p.result:
		return approved, nil
	case <-timer.C:
		if !r.claim(id) {
			return <-p.result, nil
		}
		r.logger.Warn("approval timed out", "tool", req.ToolName, "request_id", id)
		return false, ErrExpired
	case <-ctx.Done():
		if !r.claim(id) {
			return <-p.result, nil
		}
		return false, ctx.Err()
	}
}

// claim removes id from the pending set and reports whether this caller was
// the one to remove it. Once Resolve has claimed a request its answer is
// already on the way, so the loser must take that answer.
func (r *Remote) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// Resolve delivers the answer for requestID on behalf of userID. It reports
// false when the request is unknown, already answered, expired, or when
// userID is not the sender the request was raised for; in the last case the
// request stays pending.
func (r *Remote) Resolve(requestID string, approved bool, userID string) bool {
	r.mu.Lock()
	p, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if p.sender != "" && p.sender != userID {
		r.mu.Unlock()
		r.logger.Warn("approval from unexpected user ignored", "request_id", requestID, "user", userID)
		return false
	}
	delete(r.pending, requestID)
	r.mu.Unlock()

	// Buffered and written only by the claimer, so this never blocks.
	p.result <- approved
	return true
}

// Pending returns the number of unanswered requests.
func (r *Remote) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Remote) remove(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

const (
	approvePrefix = "approve:"
	denyPrefix    = "deny:"
)

// CallbackData returns the button payloads for a request.
func CallbackData(requestID string) (approve, deny string) {
	return approvePrefix + requestID, denyPrefix + requestID
}

// ParseCallback splits a button payload into request ID and decision.
func ParseCallback(data string) (requestID string, approved bool, ok bool) {
	if id, found := strings.CutPrefix(data, approvePrefix); found && id != "" {
		return id, true, true
	}
	if id, found := strings.CutPrefix(data, denyPrefix); found && id != "" {
		return id, false, true
	}
	return "", false, false
}
