// Package channel implements the user-facing channels: Telegram for remote
// use and a terminal REPL for local chat.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"valet/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for the Telegram bot API.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger

	// pendingConfirm tracks open approval prompts by chat.
	pendingConfirm   map[int64]chan bool
	pendingConfirmMu sync.Mutex

	skillList func() []domain.SkillDescriptor
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	// SkillList backs the /skills command. Optional.
	SkillList func() []domain.SkillDescriptor
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{
		token:          cfg.Token,
		allowFrom:      allowed,
		parseMode:      cfg.ParseMode,
		logger:         cfg.Logger,
		pendingConfirm: make(map[int64]chan bool),
		skillList:      cfg.SkillList,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

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
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

// RequestConfirmation renders an approval prompt with inline Approve/Deny
// buttons and blocks until the user answers or ctx expires. It satisfies
// approval.ConfirmFunc.
func (t *Telegram) RequestConfirmation(ctx context.Context, chatID string, question string) (bool, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid chat ID: %w", err)
	}

	t.pendingConfirmMu.Lock()
	ch := make(chan bool, 1)
	t.pendingConfirm[id] = ch
	t.pendingConfirmMu.Unlock()

	defer func() {
		t.pendingConfirmMu.Lock()
		delete(t.pendingConfirm, id)
		t.pendingConfirmMu.Unlock()
	}()

	msg := tgbotapi.NewMessage(id, question)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "confirm_yes"),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", "confirm_no"),
		),
	)
	if _, err := t.bot.Send(msg); err != nil {
		return false, fmt.Errorf("send confirmation: %w", err)
	}

	select {
	case confirmed := <-ch:
		return confirmed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
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
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(domain.InboundMessage{
		Channel:        "telegram",
		ChatID:         strconv.FormatInt(chatID, 10),
		SenderID:       strconv.FormatInt(userID, 10),
		ConversationID: "telegram:" + strconv.FormatInt(chatID, 10),
		Content:        text,
		Timestamp:      time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	data := cq.Data

	callback := tgbotapi.NewCallback(cq.ID, "")
	_, _ = t.bot.Request(callback)

	t.pendingConfirmMu.Lock()
	ch, ok := t.pendingConfirm[chatID]
	t.pendingConfirmMu.Unlock()

	if ok {
		switch data {
		case "confirm_yes":
			ch <- true
		case "confirm_no":
			ch <- false
			t.sendMessage(chatID, "❌ Okay, not doing that.")
		}

		edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
		_, _ = t.bot.Send(edit)
	}
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "👋 Hello! I'm Valet, your personal assistant.\n\nJust send me a message and I'll route it to the right skill.\n\nCommands:\n/skills — List available skills\n/status — Show bot status\n/help — Show this message")
	case "help":
		t.sendMessage(chatID, "📖 *Valet Help*\n\nSend me any message and I'll figure out which skill handles it. Actions that change things outside this chat ask for your approval first.\n\nCommands:\n/skills — List available skills\n/status — Bot status")
	case "skills":
		t.sendMessage(chatID, t.renderSkills())
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("🟢 Valet is running\n\nBot: @%s\nYour ID: %d\nChat ID: %d", t.bot.Self.UserName, msg.From.ID, chatID))
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) renderSkills() string {
	if t.skillList == nil {
		return "No skill listing available."
	}
	skills := t.skillList()
	if len(skills) == 0 {
		return "No skills registered."
	}
	var sb strings.Builder
	sb.WriteString("🧰 *Skills*\n")
	for _, sk := range skills {
		marker := ""
		if sk.AutonomyLevel == domain.AutonomyApprovalRequired {
			marker = " 🔒"
		}
		fmt.Fprintf(&sb, "\n• *%s*%s — %s", sk.Name, marker, sk.Description)
	}
	sb.WriteString("\n\n🔒 = asks for approval before acting")
	return sb.String()
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message.
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Markdown first, then plain text on parse errors, with backoff on 429.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt, retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			continue
		}

		t.logger.Error("telegram send failed", "chat_id", chatID, "err", err)
		return
	}
}
