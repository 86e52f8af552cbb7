package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/rasuna-dev/backend-antar/internal/events"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

// DefaultExchange is the topic exchange domain events are mirrored to.
const DefaultExchange = "antar.events"

// Publisher mirrors the domain event stream onto a RabbitMQ topic exchange.
// The routing key is the event topic, so consumers can bind selectively
// ("delivery.*", "driver.offline", "#").
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	acks     <-chan amqp.Confirmation
	mu       sync.Mutex // confirms arrive in publish order; one publish at a time
	exchange string
	log      zerolog.Logger
}

// Dial connects to the broker, switches the channel into confirm mode and
// declares the topic exchange. An empty url disables the publisher: Dial
// returns (nil, nil) and every method on a nil Publisher is a no-op, so
// callers can wire the result without checking whether the broker is on.
func Dial(url, exchange string, logger zerolog.Logger) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("mq: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mq: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("mq: enable publisher confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("mq: declare exchange %q: %w", exchange, err)
	}
	return &Publisher{
		conn:     conn,
		ch:       ch,
		acks:     acks,
		exchange: exchange,
		log:      logger.With().Str("component", "mq").Logger(),
	}, nil
}

// Notify publishes the event persistently and waits for the broker's ack.
// It satisfies events.Notifier; on a nil Publisher it silently drops the
// event so the bus does not need to special-case a disabled broker.
func (p *Publisher) Notify(ctx context.Context, ev events.Event) error {
	if p == nil || p.ch == nil {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mq: encode event %s: %w", ev.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, ev.Topic, false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     ev.ID.String(),
		CorrelationId: ev.AggregateID.String(),
		Timestamp:     ev.OccurredAt.UTC(),
		Body:          body,
	})
	if err != nil {
		p.countPublish(ev.Topic, "error")
		return fmt.Errorf("mq: publish %s: %w", ev.Topic, err)
	}

	select {
	case conf := <-p.acks:
		if !conf.Ack {
			p.countPublish(ev.Topic, "nack")
			return fmt.Errorf("mq: broker nacked event %s", ev.ID)
		}
	case <-ctx.Done():
		p.countPublish(ev.Topic, "error")
		return ctx.Err()
	}

	p.countPublish(ev.Topic, "published")
	p.log.Debug().Str("topic", ev.Topic).Str("event_id", ev.ID.String()).Msg("event published")
	return nil
}

// Ping reports whether the broker connection is still open. A nil Publisher
// is healthy: there is nothing to check when the broker is disabled.
func (p *Publisher) Ping() error {
	if p == nil {
		return nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("mq: connection closed")
	}
	return nil
}

// Close releases the channel and the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *Publisher) countPublish(topic, result string) {
	if obs.MQPublishesTotal == nil {
		return
	}
	obs.MQPublishesTotal.WithLabelValues(topic, result).Inc()
}
