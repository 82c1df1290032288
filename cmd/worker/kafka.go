package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

const maxDeliveryAttempts = 3

// consume reads events until ctx is done. A message is committed once it was
// delivered, dropped as poison, or failed maxDeliveryAttempts times.
func consume(ctx context.Context, r messageReader, p *Processor, backoff time.Duration, log zerolog.Logger) error {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for attempt := 1; ; attempt++ {
			err = p.Process(ctx, m.Value)
			if err == nil || errors.Is(err, errPoison) || attempt == maxDeliveryAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
		if err != nil {
			log.Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("giving up on message")
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
