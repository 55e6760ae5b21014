package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/dosetrack/dosetrack/internal/queue"
)

// RefillQueuePublisher publishes RefillDueEvents to the refill.due
// queue. Each publish opens a short-lived connection; refill events
// are rare enough that connection reuse buys nothing, and a fresh dial
// means a broker restart never leaves a poisoned channel behind.
// Errors are logged and returned; the engine falls back to inline
// dispatch when publishing fails.
type RefillQueuePublisher struct {
	URL string
	log *zap.Logger
}

func NewRefillQueuePublisher(url string, log *zap.Logger) *RefillQueuePublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RefillQueuePublisher{URL: url, log: log}
}

// PublishRefillDue enqueues one refill hand-off. Messages are marked
// persistent so they survive broker restarts.
func (p *RefillQueuePublisher) PublishRefillDue(ctx context.Context, userID, scheduleID uint64) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		p.log.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue.RefillDueQueue, true, false, false, false, nil); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", zap.Error(err))
		return err
	}

	event := queue.RefillDueEvent{
		EventID:     uuid.NewString(),
		UserID:      userID,
		ScheduleID:  scheduleID,
		TriggeredAt: time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",                   // default exchange
		queue.RefillDueQueue, // routing key = queue name
		false,                // mandatory
		false,                // immediate
		pub,
	); err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.Error(err))
		return err
	}

	p.log.Info("refill event published",
		zap.String("event_id", event.EventID),
		zap.Uint64("schedule_id", scheduleID))
	return nil
}
