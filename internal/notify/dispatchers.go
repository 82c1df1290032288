package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/imrishuroy/go-checkout-payments/internal/aws"
)

// SQSDispatcher publishes events to the notifications queue consumed by cmd/worker.
type SQSDispatcher struct {
	publisher *aws.Publisher
}

func NewSQSDispatcher(p *aws.Publisher) *SQSDispatcher {
	return &SQSDispatcher{publisher: p}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return d.publisher.Publish(ctx, aws.Message{
		Body: string(body),
		Attributes: map[string]string{
			"event_id":   ev.ID,
			"event_type": string(ev.Type),
			"order_id":   ev.OrderID,
		},
		GroupID: ev.OrderID,
		DedupID: ev.ID,
	})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDispatcher writes events keyed by order id so one order's events stay
// on one partition.
type KafkaDispatcher struct {
	w messageWriter
}

func NewKafkaDispatcher(w messageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{w: w}
}

// NewKafkaWriter builds the producer used by NewKafkaDispatcher. Writes stay
// synchronous so a failed dispatch is logged by the caller; the batch timeout
// is short because each request writes one or two events.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := d.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// LogDispatcher only logs. Used locally when no queue is configured.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.log.Info().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Str("order_id", ev.OrderID).
		Msg("notification")
	return nil
}

// Fanout sends to every dispatcher and joins the failures.
type Fanout []Dispatcher

func (f Fanout) Dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for _, d := range f {
		if err := d.Dispatch(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
