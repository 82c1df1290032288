package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-checkout-payments/internal/idempotency"
	"github.com/imrishuroy/go-checkout-payments/internal/notify"
)

// Processor turns notification events into emails, at most once per event id.
type Processor struct {
	dedupe Deduper
	mailer notify.Mailer
	log    zerolog.Logger
}

// NewProcessor creates a processor. dedupe may be nil, in which case
// redelivered events are mailed again.
func NewProcessor(dedupe Deduper, mailer notify.Mailer, log zerolog.Logger) *Processor {
	return &Processor{dedupe: dedupe, mailer: mailer, log: log}
}

// Handle receives an SQS batch event and reports failed messages individually,
// so one bad email does not redeliver the whole batch.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		err := p.Process(ctx, []byte(rec.Body))
		switch {
		case err == nil:
		case errors.Is(err, errPoison):
			p.log.Error().Err(err).Str("message_id", rec.MessageId).Msg("dropping unprocessable message")
		default:
			p.log.Warn().Err(err).Str("message_id", rec.MessageId).Msg("message will be retried")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	p.log.Info().Int("received", len(ev.Records)).Int("failed", len(resp.BatchItemFailures)).Msg("batch processed")
	return resp, nil
}

// Process delivers one encoded notify.Event.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	var ev notify.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: invalid message body: %v", errPoison, err)
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: event without id", errPoison)
	}
	msg, err := notify.Render(ev)
	if err != nil {
		return fmt.Errorf("%w: event %s: %v", errPoison, ev.ID, err)
	}

	log := p.log.With().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Str("order_id", ev.OrderID).Logger()

	key := idempotency.EventKey(ev.ID)
	if p.dedupe != nil {
		rec, acquired, err := p.dedupe.Acquire(ctx, key, ev.ID)
		if err != nil {
			return fmt.Errorf("dedupe event %s: %w", ev.ID, err)
		}
		if !acquired {
			if rec.Status == idempotency.StatusDone {
				log.Info().Msg("duplicate event skipped")
				return nil
			}
			return errInFlight
		}
	}

	if err := p.mailer.Send(ctx, msg); err != nil {
		if p.dedupe != nil {
			if ferr := p.dedupe.MarkFailed(ctx, key, err.Error()); ferr != nil {
				log.Warn().Err(ferr).Msg("mark event failed")
			}
		}
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}

	if p.dedupe != nil {
		if err := p.dedupe.MarkDone(ctx, key, msg.Subject, 0); err != nil {
			// the mail went out; a redelivery would duplicate it but must not fail this one
			log.Warn().Err(err).Msg("mark event done")
		}
	}
	log.Info().Str("to", msg.To).Msg("notification sent")
	return nil
}
