package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/logger"
)

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts new-listing and urgent-target alerts to one chat.
type Telegram struct {
	bot        sender
	chatID     int64
	maxRetries int
	retryDelay time.Duration
	log        *logger.Logger
}

var _ drepo.Notifier = (*Telegram)(nil)

// NewTelegram connects the bot and validates the chat id.
func NewTelegram(token, chatID string, maxRetries int, retryDelay time.Duration, log *logger.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, maxRetries, retryDelay, log)
}

func newTelegram(bot sender, chatID string, maxRetries int, retryDelay time.Duration, log *logger.Logger) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Telegram{
		bot:        bot,
		chatID:     id,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log.With(logger.String("component", "telegram")),
	}, nil
}

func (t *Telegram) NotifyNewListing(ctx context.Context, ev models.NewListingEvent) error {
	return t.send(ctx, formatListing(ev))
}

func (t *Telegram) NotifyTargets(ctx context.Context, targets []models.SnipeTarget) error {
	if len(targets) == 0 {
		return nil
	}
	return t.send(ctx, formatTargets(targets))
}

// send posts a MarkdownV2 message with linear-backoff retry.
func (t *Telegram) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		t.log.Debug("telegram send failed", logger.Int("attempt", i+1), logger.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.maxRetries, lastErr)
}

func formatListing(ev models.NewListingEvent) string {
	var b strings.Builder
	b.WriteString("🆕 *New listing detected*\n\n")
	fmt.Fprintf(&b, "Symbol: `%s`\n", escapeMarkdownV2(ev.Listing.Symbol))
	if ev.Listing.ProjectName != "" {
		fmt.Fprintf(&b, "Project: %s\n", escapeMarkdownV2(ev.Listing.ProjectName))
	}
	if ev.Listing.FirstOpenTime > 0 {
		open := time.UnixMilli(ev.Listing.FirstOpenTime).UTC().Format("2006-01-02 15:04 MST")
		fmt.Fprintf(&b, "Opens: %s\n", escapeMarkdownV2(open))
	}
	fmt.Fprintf(&b, "Layer: %s", escapeMarkdownV2(string(ev.Source)))
	return b.String()
}

func formatTargets(targets []models.SnipeTarget) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 *%d urgent snipe target\\(s\\)*\n\n", len(targets))
	for i, tg := range targets {
		line := fmt.Sprintf("%s · %s · p%d · %.1f%% · %s · %s USDT",
			tg.SymbolName, tg.PatternType, tg.Priority, tg.ConfidenceScore, tg.Status, tg.PositionSizeUsdt.StringFixed(2))
		fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(line))
	}
	return strings.TrimRight(b.String(), "\n")
}

func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
