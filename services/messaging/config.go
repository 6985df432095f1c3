package msgsvc

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/notification"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FromConfig returns a sink sending through every configured channel, or printing to the console if none is.
// The closer releases the broker connection, if any.
func FromConfig(conf *core.Config, users AddressBook, logger core.Logger) (notification.Sink, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	sink := NewMultiSink(logger)

	if conf.Telegram.BotToken != "" {
		tg, err := NewTelegramSink(conf.Telegram.BotToken, logger)
		if err != nil {
			return nil, closer, errors.Wrap(err, "setting up telegram")
		}
		sink.Add("telegram", tg)
	}
	if conf.Sendgrid.APIKey != "" {
		sink.Add("email", NewEmailSink(conf, users, logger))
	}
	if conf.AMQP.URL != "" {
		broker, err := DialAMQP(conf.AMQP, logger)
		if err != nil {
			return nil, closer, errors.Wrap(err, "setting up AMQP")
		}
		sink.Add("amqp", broker)
		closer = broker
	}
	if sink.Len() == 0 {
		logger.Warn("no messaging channel configured, notifications are printed to the console")
		sink.Add("console", NewConsoleSink(os.Stdout))
	}
	return sink, closer, nil
}
