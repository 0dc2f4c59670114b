// Package notify delivers one-line run summaries to operators. Delivery is
// best effort; a failed notification never touches job outcomes.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"scenesmith/internal/logging"
)

// Telegram sends summaries to a single chat. Send only, no polling.
type Telegram struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *logging.Logger
}

// NewTelegram builds the sink. chatID is the numeric target chat.
func NewTelegram(token string, chatID int64, logger *logging.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:    bot,
		chat:   &tele.Chat{ID: chatID},
		logger: logger.WithComponent("notify"),
	}, nil
}

// Send delivers one summary line.
func (t *Telegram) Send(ctx context.Context, summary string) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(t.chat, summary)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(15 * time.Second):
		return errors.New("telegram send timed out")
	}
}

// Nop discards everything. Used when no notifier is configured.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }
