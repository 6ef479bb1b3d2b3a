package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"whatsapp-dispatch/internal/domain/ports/adapter"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var _ adapter.Notifier = (*Notifier)(nil)

// Notifier delivers operator alerts to a single Telegram chat.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	log     *zerolog.Logger
}

// NewNotifier authenticates the bot token (getMe) and targets chatID.
func NewNotifier(token string, chatID int64, logger *zerolog.Logger) (*Notifier, error) {
	return newNotifier(token, tgbotapi.APIEndpoint, http.DefaultClient, chatID, logger)
}

// NewNotifierWithEndpoint is NewNotifier against a custom Bot API endpoint
// (format "https://host/bot%s/%s").
func NewNotifierWithEndpoint(token, endpoint string, client *http.Client, chatID int64, logger *zerolog.Logger) (*Notifier, error) {
	return newNotifier(token, endpoint, client, chatID, logger)
}

func newNotifier(token, endpoint string, client *http.Client, chatID int64, logger *zerolog.Logger) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("telegram alert token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram alert chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	compLog := logger.With().Str("component", "TelegramNotifier").Logger()
	compLog.Info().Str("bot", bot.Self.UserName).Int64("chat_id", chatID).Msg("operator alerts enabled")
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		// Telegram allows ~1 msg/s per chat; keep a small burst for alert storms
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		log:     &compLog,
	}, nil
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
