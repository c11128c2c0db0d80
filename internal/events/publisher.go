// Package events provides the optional fan-out of processed provider events
// to an AMQP broker, so downstream consumers (analytics, CRM sync) can react
// without polling the mirror. Publishing is strictly best-effort: a broker
// outage is logged and never blocks or fails the pipeline.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher emits one processed event. Implementations must never block the
// caller beyond the context deadline and must swallow broker failures.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any)
}

// Noop is the publisher used when no broker is configured.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(ctx context.Context, event string, payload any) {}

// envelope is the wire shape put on the queue.
type envelope struct {
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// AMQPPublisher publishes processed events to a durable queue.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   zerolog.Logger
}

// NewAMQP dials the broker and declares the durable queue. The queue is bound
// to the default exchange, so the queue name doubles as the routing key.
func NewAMQP(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{
		conn:  conn,
		ch:    ch,
		queue: queue,
		log:   log.With().Str("component", "events").Str("queue", queue).Logger(),
	}, nil
}

// Publish marshals the event envelope and puts it on the queue. Failures are
// logged and dropped.
func (p *AMQPPublisher) Publish(ctx context.Context, event string, payload any) {
	body, err := json.Marshal(envelope{Event: event, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("event marshal failed")
		return
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("event publish failed")
		return
	}
	p.log.Debug().Str("event", event).Msg("event published")
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
