// Package bus carries messages between channels and the orchestrator.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/metrics"
)

const (
	defaultBufferSize  = 100
	defaultPublishWait = 10 * time.Second
)

// Bus is the in-process domain.MessageBus. Publish applies back-pressure for
// up to the publish wait and then drops; SendOutbound runs the handler on
// the caller's goroutine.
type Bus struct {
	queue chan domain.InboundMessage
	wait  time.Duration
	log   *slog.Logger

	mu     sync.RWMutex
	routes map[string]domain.OutboundHandler
	closed bool

	dropped atomic.Int64
}

// New returns a bus whose inbound queue holds bufferSize messages.
func New(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queue:  make(chan domain.InboundMessage, bufferSize),
		wait:   defaultPublishWait,
		log:    logger.With("component", "bus"),
		routes: make(map[string]domain.OutboundHandler),
	}
}

func (b *Bus) Publish(msg domain.InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	// The read lock is held across the send so Close cannot close the
	// queue underneath a blocked publisher.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Warn("publish after close", "channel", msg.Channel, "sender", msg.SenderID)
		return
	}

	select {
	case b.queue <- msg:
		return
	default:
	}

	b.log.Warn("inbound queue full", "channel", msg.Channel, "sender", msg.SenderID, "depth", len(b.queue))
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.queue <- msg:
	case <-timer.C:
		b.dropped.Add(1)
		metrics.BusDropped.Inc()
		b.log.Error("inbound message dropped", "channel", msg.Channel, "sender", msg.SenderID, "waited", b.wait)
	}
}

func (b *Bus) Subscribe() <-chan domain.InboundMessage { return b.queue }

func (b *Bus) OnOutbound(channel string, handler domain.OutboundHandler) {
	b.mu.Lock()
	b.routes[channel] = handler
	b.mu.Unlock()
}

// SendOutbound routes msg to its channel. Replies for a channel with no
// handler are logged and discarded; a panicking handler is recovered.
func (b *Bus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	deliver := b.routes[msg.Channel]
	b.mu.RUnlock()
	if deliver == nil {
		b.log.Warn("no outbound route", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("outbound handler panic", "channel", msg.Channel, "panic", r)
		}
	}()
	deliver(msg)
}

// Dropped reports how many inbound messages were discarded on a full queue.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close is idempotent. Subscribers see the queue close once drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.queue)
}

var _ domain.MessageBus = (*Bus)(nil)
