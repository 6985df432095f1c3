package msgsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/notification"
)

// publisher is implemented by *amqp.Channel.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Envelope is the body of the messages published to the broker, for a bot running in another process.
type Envelope struct {
	UserID string    `json:"user_id"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// AMQPSink publishes messages to an exchange instead of delivering them.
type AMQPSink struct {
	conn       *amqp.Connection
	ch         publisher
	exchange   string
	routingKey string
	now        func() time.Time
}

var _ notification.Sink = (*AMQPSink)(nil)

// DialAMQP connects to the broker and declares the (durable, direct) exchange.
func DialAMQP(conf core.AMQPConfig, logger core.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(conf.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing AMQP broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening AMQP channel")
	}
	if err = ch.ExchangeDeclare(conf.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declaring exchange %s", conf.Exchange)
	}
	logger.Info(fmt.Sprintf("publishing notifications to AMQP exchange %s (%s)", conf.Exchange, conf.RoutingKey))

	sink := newAMQPSink(ch, conf)
	sink.conn = conn
	return sink, nil
}

func newAMQPSink(ch publisher, conf core.AMQPConfig) *AMQPSink {
	return &AMQPSink{
		ch:         ch,
		exchange:   conf.Exchange,
		routingKey: conf.RoutingKey,
		now:        time.Now,
	}
}

func (s *AMQPSink) SendMessage(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(Envelope{UserID: userID, Text: text, SentAt: s.now().UTC()})
	if err != nil {
		return errors.Wrap(err, "encoding message")
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now(),
		Body:         body,
	})
	return errors.Wrapf(err, "publishing message for %s", userID)
}

func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
