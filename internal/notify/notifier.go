// Package notify delivers short trade messages to an operator.
package notify

import (
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrMissingChat = errors.New("telegram chat id is required")

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Log writes notifications to a zap logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(msg string) { l.logger.Info("notify", zap.String("msg", msg)) }

func (l *Log) Sendf(format string, args ...any) { l.Send(fmt.Sprintf(format, args...)) }

type messageSender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram posts notifications to a single chat. Delivery failures are
// logged and dropped.
type Telegram struct {
	bot    messageSender
	chatID int64
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	if chatID == 0 {
		return nil, ErrMissingChat
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return newTelegram(b, chatID, logger), nil
}

func newTelegram(bot messageSender, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.logger.Warn("telegram send failed", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Multi fans a message out to every notifier.
type Multi []Notifier

func (m Multi) Send(msg string) {
	for _, n := range m {
		n.Send(msg)
	}
}

func (m Multi) Sendf(format string, args ...any) { m.Send(fmt.Sprintf(format, args...)) }
