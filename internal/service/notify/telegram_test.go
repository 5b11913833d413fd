package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
	"SnipeRadar/pkg/logger"
)

type fakeBot struct {
	failures int
	sent     []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifyNewListing(t *testing.T) {
	bot := &fakeBot{}
	tg, err := newTelegram(bot, "-1001", 3, time.Millisecond, logger.NewNop())
	require.NoError(t, err)

	err = tg.NotifyNewListing(context.Background(), models.NewListingEvent{
		Listing: models.Listing{Symbol: "ABC_USDT", ProjectName: "Abc.io", FirstOpenTime: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC).UnixMilli()},
		Source:  models.LayerCalendar,
	})
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	msg := bot.sent[0]
	assert.Equal(t, int64(-1001), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
	assert.Contains(t, msg.Text, "ABC\\_USDT")
	assert.Contains(t, msg.Text, "Abc\\.io")
	assert.Contains(t, msg.Text, "2026\\-03\\-01 15:00 UTC")
}

func TestTelegramNotifyTargetsRetries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	tg, err := newTelegram(bot, "42", 3, time.Millisecond, logger.NewNop())
	require.NoError(t, err)

	err = tg.NotifyTargets(context.Background(), []models.SnipeTarget{{
		SymbolName: "ABCUSDT", PatternType: models.PatternReadyState, Priority: 1,
		ConfidenceScore: 92, Status: models.TargetReady, PositionSizeUsdt: decimal.NewFromInt(100),
	}})
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0].Text, "1 urgent snipe target")
	assert.Contains(t, bot.sent[0].Text, "92\\.0%")
	assert.Contains(t, bot.sent[0].Text, "100\\.00 USDT")
}

func TestTelegramGivesUp(t *testing.T) {
	bot := &fakeBot{failures: 5}
	tg, err := newTelegram(bot, "42", 2, time.Millisecond, logger.NewNop())
	require.NoError(t, err)

	err = tg.NotifyTargets(context.Background(), []models.SnipeTarget{{SymbolName: "ABCUSDT"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.NoError(t, tg.NotifyTargets(context.Background(), nil))
}

func TestTelegramRejectsBadChatID(t *testing.T) {
	_, err := newTelegram(&fakeBot{}, "not-a-number", 1, 0, logger.NewNop())
	assert.Error(t, err)
}
