package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"iris/config"
	"iris/constant"
	"iris/dto"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends meeting events to a topic exchange. amqp channels are not safe for concurrent
// publishing, so calls are serialized.
type Publisher struct {
	mu       sync.Mutex
	ch       publishChannel
	exchange string
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", cfg.ExchangeName).Msg("failed to declare exchange")
		_ = ch.Close()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()
	return newPublisher(ch, cfg.ExchangeName), nil
}

func newPublisher(ch publishChannel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

func (p *Publisher) Publish(ctx context.Context, event dto.MeetingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.MeetingID,
		Type:         string(event.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// RoutingKey is meeting.<stage> for stage changes and meeting.<event type> otherwise.
func RoutingKey(event dto.MeetingEvent) string {
	if event.Type == constant.EventStageChanged {
		return "meeting." + strings.ToLower(string(event.Stage))
	}
	return "meeting." + string(event.Type)
}

// NopPublisher is used when the broker is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, dto.MeetingEvent) error {
	return nil
}
