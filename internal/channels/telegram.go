package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/genie/internal/config"
	"github.com/basket/genie/internal/engine"
	"github.com/basket/genie/internal/persistence"
	"github.com/basket/genie/internal/shared"
)

// maxMessageLen is Telegram's limit for a single text message.
const maxMessageLen = 4096

const (
	unlinkedReply = "This Telegram account is not linked to a genie device."
	helpReply     = "Send me a message and I will plan with you.\n/stats shows your progress."
)

// Sender is the slice of the bot API the channel writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatsStore serves the /stats command.
type StatsStore interface {
	Authenticate(ctx context.Context, clientID, secret string) (bool, error)
	Stats(ctx context.Context, clientID string) (persistence.ClientStats, error)
}

// Telegram relays messages from linked Telegram users to the chat service.
// Each Telegram user id maps to exactly one device credential; unlinked
// users are refused.
type Telegram struct {
	token  string
	links  map[int64]config.TelegramLink
	chat   ChatService
	store  StatsStore
	logger *slog.Logger

	bot    *tgbotapi.BotAPI
	sender Sender
}

func NewTelegram(cfg config.TelegramConfig, chat ChatService, store StatsStore, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	links := make(map[int64]config.TelegramLink, len(cfg.Links))
	for _, l := range cfg.Links {
		links[l.UserID] = l
	}
	return &Telegram{
		token:  cfg.Token,
		links:  links,
		chat:   chat,
		store:  store,
		logger: logger.With("component", "telegram"),
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

// LinkedUsers reports how many Telegram users may talk to the bot.
func (t *Telegram) LinkedUsers() int {
	return len(t.links)
}

func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}
	t.bot = bot
	t.sender = bot
	t.logger.Info("telegram bot started", "user", bot.Self.UserName, "linked_users", len(t.links))

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		pollErr := t.pollUpdates(ctx, bot.GetUpdatesChan(u))
		bot.StopReceivingUpdates()
		if pollErr == nil {
			return nil
		}
		t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// pollUpdates drains updates until ctx ends (nil) or the stream stalls or
// closes (error, so the caller reconnects).
func (t *Telegram) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// Long polls return every 60s even when idle.
	const stallTimeout = 150 * time.Second
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)
			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no updates for %v", stallTimeout)
		}
	}
}

func (t *Telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.From == nil {
		return
	}
	link, ok := t.links[msg.From.ID]
	if !ok {
		t.logger.Warn("telegram user not linked", "user_id", msg.From.ID, "user_name", msg.From.UserName)
		t.reply(msg.Chat.ID, unlinkedReply)
		return
	}

	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	if msg.IsCommand() {
		t.handleCommand(ctx, msg.Chat.ID, link, msg.Command())
		return
	}

	answer, err := t.chat.Chat(ctx, link.ClientID, link.Secret, text)
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		t.logger.Error("telegram link has stale credentials", "user_id", msg.From.ID, "client_id", link.ClientID)
		t.reply(msg.Chat.ID, "The linked device credentials were rejected.")
	case err != nil:
		t.logger.Error("telegram chat failed", "client_id", link.ClientID, "error", err)
		t.reply(msg.Chat.ID, "Sorry, something went wrong. Please try again.")
	default:
		t.reply(msg.Chat.ID, answer)
	}
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, link config.TelegramLink, cmd string) {
	switch cmd {
	case "start", "help":
		t.reply(chatID, helpReply)
	case "stats":
		if t.store == nil {
			t.reply(chatID, "Stats are unavailable.")
			return
		}
		ok, err := t.store.Authenticate(ctx, link.ClientID, link.Secret)
		if err != nil || !ok {
			t.reply(chatID, "The linked device credentials were rejected.")
			return
		}
		st, err := t.store.Stats(ctx, link.ClientID)
		if err != nil {
			t.logger.Error("telegram stats failed", "client_id", link.ClientID, "error", err)
			t.reply(chatID, "Stats are unavailable.")
			return
		}
		t.reply(chatID, formatStats(st))
	default:
		t.reply(chatID, "Unknown command. "+helpReply)
	}
}

func formatStats(st persistence.ClientStats) string {
	return fmt.Sprintf("XP: %d\nTasks completed: %d\nObjectives completed: %d",
		st.XPScore, st.TasksCompletedCount, st.ObjectivesCompletedCount)
}

func (t *Telegram) reply(chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := t.sender.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			t.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
			return
		}
	}
}

// splitMessage breaks text into chunks of at most limit runes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
