package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abkawan/account-ledger/internal/models"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	// queue for audit events
	AuditQueue = "audit_events"
)

// handles RabbitMQ operations
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	logger  *zap.Logger
}

func NewRabbitMQ(uri string, logger *zap.Logger) (*RabbitMQ, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		AuditQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		queue:   q,
		logger:  logger,
	}, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// publishes an audit event to the queue
func (r *RabbitMQ) PublishAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	body, err := encodeAuditEvent(ev)
	if err != nil {
		return err
	}

	err = r.channel.Publish(
		"",         // exchange
		AuditQueue, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    ev.ID,
			Type:         string(ev.Type),
			Timestamp:    ev.OccurredAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// consumes audit events from the queue. A message stays unacknowledged
// until the receiver acks or nacks its delivery.
func (r *RabbitMQ) ConsumeAuditEvents(ctx context.Context) (<-chan models.AuditDelivery, error) {
	msgs, err := r.channel.Consume(
		AuditQueue, // queue
		"",         // consumer
		false,      // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	events := make(chan models.AuditDelivery)

	go func() {
		defer close(events)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				ev, err := decodeAuditEvent(msg.Body)
				if err != nil {
					r.logger.Warn("dropping malformed audit message", zap.String("message_id", msg.MessageId), zap.Error(err))
					msg.Reject(false) // Don't requeue
					continue
				}

				select {
				case events <- newAuditDelivery(ev, msg):
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()

	return events, nil
}

func newAuditDelivery(ev models.AuditEvent, msg amqp.Delivery) models.AuditDelivery {
	return models.AuditDelivery{
		Event: ev,
		Ack:   func() error { return msg.Ack(false) },
		Nack:  func(requeue bool) error { return msg.Nack(false, requeue) },
	}
}

func encodeAuditEvent(ev *models.AuditEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return body, nil
}

func decodeAuditEvent(body []byte) (models.AuditEvent, error) {
	var ev models.AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal audit event: %w", err)
	}
	if ev.ID == "" || ev.AccountNumber == 0 {
		return ev, fmt.Errorf("audit event is missing id or account number")
	}
	return ev, nil
}
