package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker defaults.
const (
	DefaultExchange = "content.changes"
	DefaultQueue    = "blogcore.content.changes"
	prefetch        = 50
)

// Publisher sends change events to whatever Source the server reads.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = (*MemorySource)(nil)
	_ Source    = (*AMQPSource)(nil)
	_ Source    = (*MemorySource)(nil)
)

// AMQPSource consumes events from a durable queue bound to a topic exchange.
// The bindings act as the server-side filter: only the watched collections
// and operations reach the queue.
type AMQPSource struct {
	url      string
	exchange string
	queue    string
	logger   *slog.Logger
}

func NewAMQPSource(url, exchange, queue string, logger *slog.Logger) *AMQPSource {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPSource{url: url, exchange: exchange, queue: queue, logger: logger}
}

func (s *AMQPSource) Open(ctx context.Context) (Stream, error) {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("changefeed: dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("changefeed: opening channel: %w", err)
	}

	deliveries, err := s.setup(ch)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &amqpStream{
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
		logger:     s.logger,
	}, nil
}

func (s *AMQPSource) setup(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		s.logger.Warn("setting broker prefetch failed", slog.String("error", err.Error()))
	}

	if err := declareExchange(ch, s.exchange); err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		s.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return nil, fmt.Errorf("changefeed: declaring queue %s: %w", s.queue, err)
	}

	for _, key := range Bindings() {
		if err := ch.QueueBind(s.queue, key, s.exchange, false, nil); err != nil {
			return nil, fmt.Errorf("changefeed: binding %s: %w", key, err)
		}
	}

	deliveries, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("changefeed: consuming %s: %w", s.queue, err)
	}
	return deliveries, nil
}

type amqpStream struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	logger     *slog.Logger
}

// Next acks each event before returning it. Handling is best effort and a
// redelivered change would only repeat idempotent invalidations, so there is
// nothing to gain from holding the ack.
func (s *amqpStream) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case d, ok := <-s.deliveries:
			if !ok {
				return Event{}, ErrStreamClosed
			}
			ev, err := decodeDelivery(d)
			if err != nil {
				s.logger.Warn("rejecting malformed change event",
					slog.String("routingKey", d.RoutingKey),
					slog.String("error", err.Error()),
				)
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				return Event{}, fmt.Errorf("changefeed: ack: %w", err)
			}
			return ev, nil
		}
	}
}

func (s *amqpStream) Close() error {
	return errors.Join(s.ch.Close(), s.conn.Close())
}

func decodeDelivery(d amqp.Delivery) (Event, error) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding body: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// AMQPPublisher publishes persistent JSON events with routing key
// "<collection>.<operation>". Each call uses its own connection, which suits
// the CLI and the occasional admin request.
type AMQPPublisher struct {
	url      string
	exchange string
}

func NewAMQPPublisher(url, exchange string) *AMQPPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPPublisher{url: url, exchange: exchange}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("changefeed: encoding event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("changefeed: dialing broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("changefeed: opening channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareExchange(ch, p.exchange); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, ev.RoutingKey(), false, false, pub); err != nil {
		return fmt.Errorf("changefeed: publishing %s: %w", ev.RoutingKey(), err)
	}
	return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(
		name,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("changefeed: declaring exchange %s: %w", name, err)
	}
	return nil
}
