package main

import (
	"context"
	"errors"

	"github.com/imrishuroy/go-checkout-payments/internal/idempotency"
)

// Deduper is the idempotency store as used by the worker.
type Deduper interface {
	Acquire(ctx context.Context, key, resourceID string) (*idempotency.Record, bool, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

var (
	// errPoison marks a message that can never succeed; it is dropped, not retried.
	errPoison = errors.New("unprocessable message")
	// errInFlight means another consumer is delivering the same event.
	errInFlight = errors.New("event is being delivered by another consumer")
)
