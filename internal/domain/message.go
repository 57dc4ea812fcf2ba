package domain

import "time"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// ChannelID is the approval/session scope of the message, e.g. "telegram:42".
func (m InboundMessage) ChannelID() string {
	if m.ChatID == "" {
		return m.Channel
	}
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown
}
