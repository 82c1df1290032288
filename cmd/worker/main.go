package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/segmentio/kafka-go"

	"github.com/imrishuroy/go-checkout-payments/internal/aws"
	"github.com/imrishuroy/go-checkout-payments/internal/config"
	"github.com/imrishuroy/go-checkout-payments/internal/idempotency"
	"github.com/imrishuroy/go-checkout-payments/internal/logging"
	"github.com/imrishuroy/go-checkout-payments/internal/notify"
)

func main() {
	cfg, err := config.LoadWorker()
	log := logging.New("notification-worker", cfg.LogLevel, cfg.RunLocal)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	var dedupe Deduper
	if cfg.IdempotencyTable != "" {
		clients, err := aws.NewAWSClients(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init aws clients")
		}
		dedupe = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	} else {
		log.Warn().Msg("IDEMPOTENCY_TABLE not set, duplicate events will be mailed again")
	}

	var mailer notify.Mailer = notify.NewLogMailer(log)
	if cfg.SMTPAddr != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	}
	p := NewProcessor(dedupe, mailer, log)

	if len(cfg.KafkaBrokers) > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.KafkaTopic,
		})
		defer r.Close()
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("consuming from kafka")
		if err := consume(ctx, r, p, time.Second, log); err != nil {
			log.Fatal().Err(err).Msg("kafka consumer stopped")
		}
		return
	}

	// RUN_LOCAL=true processes a single event from LOCAL_SQS_BODY and exits.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"id":"local-event-1","type":"order.confirmed","order_id":"local-order-1","email":"dev@example.com","total":"25.00"}`
		}
		resp, _ := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if len(resp.BatchItemFailures) > 0 {
			log.Fatal().Msg("local event failed")
		}
		return
	}

	lambda.Start(p.Handle)
}
