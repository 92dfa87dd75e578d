// Package notify delivers operator alerts about failed episodes and
// consistency violations.
package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/lueurxax/character-market/internal/core/ports"
	"github.com/lueurxax/character-market/internal/platform/observability"
)

var (
	_ ports.Notifier = (*Telegram)(nil)
	_ ports.Notifier = Log{}
)

// Telegram limits a message to 4096 characters.
const maxMessageRunes = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts to a single chat through the Bot API.
type Telegram struct {
	api    sender
	chatID int64
	logger *zerolog.Logger
}

func NewTelegram(token string, chatID int64, logger *zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Telegram{api: api, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	msg := tgbotapi.NewMessage(t.chatID, truncate(text, maxMessageRunes))
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		observability.NotificationsSent.WithLabelValues(observability.StatusError).Inc()
		return fmt.Errorf("send telegram message: %w", err)
	}

	observability.NotificationsSent.WithLabelValues(observability.StatusOK).Inc()

	return nil
}

// Log writes alerts to the log when no Telegram chat is configured.
type Log struct {
	Logger *zerolog.Logger
}

func (l Log) Notify(_ context.Context, text string) error {
	l.Logger.Warn().Str("alert", text).Msg("operator notification")
	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return string(runes[:limit-1]) + "…"
}
