package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

// Binding names the queue a consumer reads and where it is bound. Messages that fail every
// retry are dead-lettered to <Exchange>_dlx / <Queue>_dlq.
type Binding struct {
	Exchange   string
	Kind       string
	Queue      string
	RoutingKey string
}

func (b Binding) dlx() string {
	return b.Exchange + "_dlx"
}

func (b Binding) dlq() string {
	return b.Queue + "_dlq"
}

func (b Binding) dlqRoutingKey() string {
	return "dlq." + b.RoutingKey
}

type consumer[T any] struct {
	conn       *amqp.Connection
	binding    Binding
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
	maxTries   uint
	newBackOff func() backoff.BackOff
}

func (c *consumer[T]) declare(ctx context.Context, ch *amqp.Channel) error {
	b := c.binding
	log := zerolog.Ctx(ctx)

	if err := ch.ExchangeDeclare(b.Exchange, b.Kind, true, false, false, false, nil); err != nil {
		log.Error().Str("exchange", b.Exchange).Msg("failed to declare exchange")
		return err
	}
	if err := ch.ExchangeDeclare(b.dlx(), b.Kind, true, false, false, false, nil); err != nil {
		log.Error().Str("exchange", b.dlx()).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(b.dlq(), true, false, false, false, nil)
	if err != nil {
		log.Error().Str("queue", b.dlq()).Msg("failed to declare dlq")
		return err
	}
	if err := ch.QueueBind(dlq.Name, b.dlqRoutingKey(), b.dlx(), false, nil); err != nil {
		log.Error().Str("queue", b.dlq()).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    b.dlx(),
		"x-dead-letter-routing-key": b.dlqRoutingKey(),
	}
	q, err := ch.QueueDeclare(b.Queue, true, false, false, false, args)
	if err != nil {
		log.Error().Str("queue", b.Queue).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
		log.Error().Str("queue", b.Queue).Msg("failed to bind queue")
		return err
	}
	return nil
}

func (c *consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.declare(ctx, ch); err != nil {
		return err
	}

	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.binding.Queue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.binding.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.binding.Queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.binding.Queue).
		Str("exchange", c.binding.Exchange).
		Str("routing_key", c.binding.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for msg := range jobs {
				c.process(ctx, workerID, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// process retries the handler and acks on success. Exhausted or permanent failures are nacked
// without requeue so the broker dead-letters them.
func (c *consumer[T]) process(ctx context.Context, workerID int, msg amqp.Delivery, dependencies T) {
	operation := func() (struct{}, error) {
		return struct{}{}, c.handler(ctx, msg, dependencies)
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))
	if err != nil && ctx.Err() != nil {
		// shutting down; hand the message back instead of dead-lettering it
		zerolog.Ctx(ctx).Warn().Err(err).Int("worker_id", workerID).Msg("requeueing message on shutdown")
		if nackErr := msg.Nack(false, true); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to requeue message")
		}
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerID).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	return bo
}

func NewConsumer[T any](
	conn *amqp.Connection,
	binding Binding,
	numWorkers int,
	maxTries int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if maxTries < 1 {
		maxTries = 1
	}
	return &consumer[T]{
		conn:       conn,
		binding:    binding,
		handler:    handler,
		numWorkers: numWorkers,
		maxTries:   uint(maxTries),
		newBackOff: defaultBackOff,
	}
}
