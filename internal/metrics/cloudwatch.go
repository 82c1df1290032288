package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	appaws "github.com/imrishuroy/go-checkout-payments/internal/aws"
)

// PutMetricData accepts at most this many datums per call.
const maxDatumsPerCall = 1000

// CloudWatch buffers datums in memory and ships them on Flush.
type CloudWatch struct {
	client    appaws.CloudWatchAPI
	namespace string
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

func NewCloudWatch(client appaws.CloudWatchAPI, namespace string, log zerolog.Logger) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace, log: log, now: time.Now}
}

func (c *CloudWatch) PaymentInitiated(method, outcome string) {
	c.add("PaymentsInitiated", 1, cwtypes.StandardUnitCount, "Method", method, "Outcome", outcome)
}

func (c *CloudWatch) CallbackReconciled(method, outcome string) {
	c.add("PaymentCallbacks", 1, cwtypes.StandardUnitCount, "Method", method, "Outcome", outcome)
}

func (c *CloudWatch) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	c.add("RequestLatency", float64(elapsed.Microseconds())/1000, cwtypes.StandardUnitMilliseconds,
		"Route", route, "Method", method, "Status", strconv.Itoa(status))
}

// add takes dimension name/value pairs.
func (c *CloudWatch) add(name string, value float64, unit cwtypes.StandardUnit, dims ...string) {
	d := cwtypes.MetricDatum{
		MetricName: strPtr(name),
		Value:      &value,
		Unit:       unit,
		Timestamp:  timePtr(c.now().UTC()),
	}
	for i := 0; i+1 < len(dims); i += 2 {
		d.Dimensions = append(d.Dimensions, cwtypes.Dimension{Name: strPtr(dims[i]), Value: strPtr(dims[i+1])})
	}
	c.mu.Lock()
	c.pending = append(c.pending, d)
	c.mu.Unlock()
}

// Flush sends everything buffered so far. Datums of a failed batch are dropped.
func (c *CloudWatch) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for len(batch) > 0 {
		n := len(batch)
		if n > maxDatumsPerCall {
			n = maxDatumsPerCall
		}
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  strPtr(c.namespace),
			MetricData: batch[:n],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
		batch = batch[n:]
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (c *CloudWatch) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := c.Flush(context.Background()); err != nil {
				c.log.Warn().Err(err).Msg("final metrics flush failed")
			}
			return
		case <-t.C:
			if err := c.Flush(ctx); err != nil {
				c.log.Warn().Err(err).Msg("metrics flush failed")
			}
		}
	}
}

func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }
