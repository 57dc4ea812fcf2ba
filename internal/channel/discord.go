package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clawgate/internal/approval"
	"clawgate/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for Discord and doubles as the approval
// transport, using message buttons.
type Discord struct {
	token     string
	guildID   string
	allowFrom map[string]bool // empty = allow all
	logger    *slog.Logger

	mu        sync.RWMutex
	session   *discordgo.Session
	approvals ApprovalResolver
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token     string
	GuildID   string   // optional: only listen in this guild
	AllowFrom []string // user IDs
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allowed := make(map[string]bool)
	for _, id := range cfg.AllowFrom {
		allowed[id] = true
	}
	return &Discord{
		token:     cfg.Token,
		guildID:   cfg.GuildID,
		allowFrom: allowed,
		logger:    cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// SetApprovals wires button interactions to a remote approval strategy.
func (d *Discord) SetApprovals(r ApprovalResolver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.approvals = r
}

// Start connects to Discord and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	bus.OnOutbound("discord", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		if err := d.Send(ctx, msg.ChatID, msg.Content); err != nil {
			d.logger.Error("discord outbound failed", "channel_id", msg.ChatID, "err", err)
		}
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		if !d.isAllowed(m.Author.ID) {
			d.logger.Warn("unauthorized discord user", "user_id", m.Author.ID, "username", m.Author.Username)
			return
		}

		d.logger.Info("discord message received", "author", m.Author.Username, "channel_id", m.ChannelID, "content_len", len(m.Content))
		bus.Publish(domain.InboundMessage{
			Channel:   "discord",
			ChatID:    m.ChannelID,
			SenderID:  m.Author.ID,
			Content:   m.Content,
			Timestamp: time.Now(),
		})
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionMessageComponent {
			return
		}
		d.handleButton(s, i)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// Stop is a no-op: the session closes when Start's context is cancelled.
func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(ctx context.Context, chatID string, content string) error {
	s := d.client()
	if s == nil {
		return fmt.Errorf("discord session not started")
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := s.ChannelMessageSend(chatID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// SendApproval posts the prompt with Approve/Deny buttons.
func (d *Discord) SendApproval(ctx context.Context, chatID, requestID, prompt string) error {
	s := d.client()
	if s == nil {
		return fmt.Errorf("discord session not started")
	}
	_, err := s.ChannelMessageSendComplex(chatID, approvalMessage(requestID, prompt), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send approval prompt: %w", err)
	}
	return nil
}

func approvalMessage(requestID, prompt string) *discordgo.MessageSend {
	approve, deny := approval.CallbackData(requestID)
	return &discordgo.MessageSend{
		Content: prompt,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Approve", Style: discordgo.SuccessButton, CustomID: approve},
				discordgo.Button{Label: "Deny", Style: discordgo.DangerButton, CustomID: deny},
			}},
		},
	}
}

func (d *Discord) handleButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var userID string
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	d.mu.RLock()
	resolver := d.approvals
	d.mu.RUnlock()

	answer, outcome := resolveCallback(resolver, i.MessageComponentData().CustomID, userID)
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: answer, Flags: discordgo.MessageFlagsEphemeral},
	}
	if outcome != "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    "[APPROVAL] " + outcome,
				Components: []discordgo.MessageComponent{},
			},
		}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		d.logger.Warn("failed to answer discord interaction", "err", err)
	}
}

func (d *Discord) client() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

func (d *Discord) isAllowed(userID string) bool {
	if len(d.allowFrom) == 0 {
		return true
	}
	return d.allowFrom[userID]
}

var (
	_ domain.Channel     = (*Discord)(nil)
	_ approval.Transport = (*Discord)(nil)
)
