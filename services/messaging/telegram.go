package msgsvc

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/notification"
)

var apiEndpoint = tgbotapi.APIEndpoint // mockable

// TelegramSink pushes messages to the Telegram chat of the user: user ids are chat ids.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	logger core.Logger
}

var _ notification.Sink = (*TelegramSink)(nil)

// NewTelegramSink authenticates the bot once; it fails if the token is rejected.
func NewTelegramSink(token string, logger core.Logger) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, &http.Client{Timeout: notification.DefaultCallTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "connecting telegram bot")
	}
	logger.Info(fmt.Sprintf("telegram bot authorized: @%s", bot.Self.UserName))
	return &TelegramSink{bot: bot, logger: logger}, nil
}

func (s *TelegramSink) SendMessage(ctx context.Context, userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid chat id %q", userID)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if _, err = s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return errors.Wrapf(err, "sending telegram message to %d", chatID)
	}
	return nil
}
