package domain

import "context"

// OutboundHandler delivers one reply on a single channel family.
type OutboundHandler func(OutboundMessage)

// MessageBus connects channels to the orchestrator. Inbound messages from
// every channel share one queue; replies are routed by OutboundMessage.Channel.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channel string, handler OutboundHandler)
	Close()
}

// Channel is a chat front end. Start registers its outbound handler and
// blocks until ctx is done or Stop is called.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID, content string) error
}
