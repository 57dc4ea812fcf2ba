package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"clawgate/internal/approval"
	"clawgate/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for a Telegram bot and doubles as the
// approval transport for chats on it.
type Telegram struct {
	token     string
	allowFrom map[int64]bool // empty = allow all
	parseMode string
	logger    *slog.Logger

	mu        sync.RWMutex
	bot       *tgbotapi.BotAPI
	approvals ApprovalResolver
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	allowed := make(map[int64]bool)
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed[id] = true
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// SetApprovals wires button callbacks to a remote approval strategy.
func (t *Telegram) SetApprovals(r ApprovalResolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.approvals = r
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		if err := t.Send(ctx, msg.ChatID, msg.Content); err != nil {
			t.logger.Error("telegram outbound failed", "chat_id", msg.ChatID, "err", err)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(bus, update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates must not be called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	bot := t.client()
	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		t.sendChunk(ctx, bot, id, chunk)
	}
	return nil
}

// SendApproval posts the prompt with Approve/Deny inline buttons.
func (t *Telegram) SendApproval(ctx context.Context, chatID, requestID, prompt string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	bot := t.client()
	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}

	approve, deny := approval.CallbackData(requestID)
	msg := tgbotapi.NewMessage(id, prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", approve),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", deny),
		),
	)
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send approval prompt: %w", err)
	}
	return nil
}

func (t *Telegram) client() *tgbotapi.BotAPI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bot
}

func (t *Telegram) handleUpdate(bus domain.MessageBus, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.sendText(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}
	if update.Message.IsCommand() && update.Message.Command() == "start" {
		t.sendText(chatID, "👋 Hello! Send me a message and I'll get to work. Type /help for commands.")
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	if bot := t.client(); bot != nil {
		_, _ = bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	}

	bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	bot := t.client()
	if bot == nil || cq.From == nil {
		return
	}

	t.mu.RLock()
	resolver := t.approvals
	t.mu.RUnlock()

	answer, outcome := resolveCallback(resolver, cq.Data, strconv.FormatInt(cq.From.ID, 10))
	_, _ = bot.Request(tgbotapi.NewCallback(cq.ID, answer))

	if outcome == "" || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(cq.Message.Chat.ID, cq.Message.MessageID, "[APPROVAL] "+outcome)
	if _, err := bot.Send(edit); err != nil {
		t.logger.Warn("failed to edit approval message", "err", err)
	}
}

// resolveCallback applies a button press. It returns the short notice shown
// to the clicking user and, when the press decided a request, the outcome
// text for the prompt message.
func resolveCallback(resolver ApprovalResolver, data, userID string) (answer, outcome string) {
	requestID, approved, ok := approval.ParseCallback(data)
	if !ok || resolver == nil {
		return "Unknown action.", ""
	}
	if !resolver.Resolve(requestID, approved, userID) {
		return "This request is no longer pending or is not yours to answer.", ""
	}
	if approved {
		return "Approved", "Approved ✅"
	}
	return "Denied", "Denied ❌"
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	return t.allowFrom[userID]
}

func (t *Telegram) sendText(chatID int64, text string) {
	if bot := t.client(); bot != nil {
		t.sendChunk(context.Background(), bot, chatID, text)
	}
}

// sendChunk sends a single message chunk. A configured parse mode is tried
// first; Markdown parse errors fall back to plain text and rate limits back off.
func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, chatID int64, text string) {
	parseMode := t.parseMode
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = parseMode

		_, err := bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if parseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			parseMode = ""
			continue
		}

		if attempt == telegramMaxSendRetries {
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
			return
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff = time.Duration(attempt+1) * 3 * time.Second
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

var (
	_ domain.Channel     = (*Telegram)(nil)
	_ approval.Transport = (*Telegram)(nil)
)
