package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-checkout-payments/internal/auth"
	"github.com/imrishuroy/go-checkout-payments/internal/aws"
	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/config"
	"github.com/imrishuroy/go-checkout-payments/internal/handlers"
	"github.com/imrishuroy/go-checkout-payments/internal/idempotency"
	"github.com/imrishuroy/go-checkout-payments/internal/logging"
	"github.com/imrishuroy/go-checkout-payments/internal/metrics"
	"github.com/imrishuroy/go-checkout-payments/internal/notify"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
	"github.com/imrishuroy/go-checkout-payments/internal/payments"
	"github.com/imrishuroy/go-checkout-payments/internal/postgres"
	"github.com/imrishuroy/go-checkout-payments/internal/providers/mpesa"
	"github.com/imrishuroy/go-checkout-payments/internal/providers/stripe"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("checkout-api", cfg.LogLevel, cfg.RunLocal)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	}
	store := postgres.NewStore(pool)

	// aws clients are only needed when a table or queue is configured
	var clients *aws.AWSClients
	if cfg.IdempotencyTable != "" || cfg.NotificationsQueueURL != "" || !cfg.RunLocal {
		if clients, err = aws.NewAWSClients(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to init aws clients")
		}
	}

	notifier := dispatcher(cfg, clients, log)

	prom := metrics.NewPrometheus(cfg.MetricsNamespace)
	recorders := metrics.Multi{prom}
	var cw *metrics.CloudWatch
	if clients != nil {
		cw = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, log)
		recorders = append(recorders, cw)
	}

	engine := orders.NewEngine(store.Orders(), notifier, log)
	coordinator := payments.NewCoordinator(
		store.Payments(),
		providers(cfg, log),
		payments.Config{Currency: cfg.Card.Currency, ProviderTimeout: cfg.ProviderTimeout},
		notifier,
		recorders,
		log,
	)

	deps := handlers.Deps{
		Orders:    engine,
		Cart:      cart.NewService(store.Cart(), log),
		Payments:  coordinator,
		Tokens:    auth.NewVerifier(cfg.JWTSecret),
		Metrics:   recorders,
		Health:    store.Ping,
		RateLimit: cfg.RateLimit,
		Log:       log,
	}
	if cfg.RunLocal {
		deps.MetricsHandler = prom.Handler()
	}
	if cfg.IdempotencyTable != "" {
		deps.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	} else {
		log.Warn().Msg("IDEMPOTENCY_TABLE not set, Idempotency-Key headers are ignored")
	}
	r := handlers.NewRouter(deps)

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		if cw != nil {
			go cw.Run(ctx, time.Minute)
		}
		srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", srv.Addr).Msg("running local server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to run local server")
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// the execution environment may freeze right after we return
		if cw != nil {
			if ferr := cw.Flush(ctx); ferr != nil {
				log.Warn().Err(ferr).Msg("flush metrics")
			}
		}
		return resp, err
	})
}

// dispatcher fans events out to every configured transport, falling back to
// the log when none is.
func dispatcher(cfg config.Config, clients *aws.AWSClients, log zerolog.Logger) notify.Dispatcher {
	var out notify.Fanout
	if cfg.NotificationsQueueURL != "" {
		out = append(out, notify.NewSQSDispatcher(aws.NewPublisher(clients.SQS, cfg.NotificationsQueueURL)))
	}
	if len(cfg.KafkaBrokers) > 0 {
		out = append(out, notify.NewKafkaDispatcher(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)))
	}
	if len(out) == 0 {
		log.Warn().Msg("no notification transport configured, events are only logged")
		return notify.NewLogDispatcher(log)
	}
	return out
}

func providers(cfg config.Config, log zerolog.Logger) payments.Providers {
	var p payments.Providers
	if cfg.Card.SecretKey != "" && cfg.Card.WebhookSecret != "" {
		p.Card = stripe.NewClient(cfg.Card.BaseURL, cfg.Card.SecretKey, cfg.ProviderTimeout)
		p.CardWebhook = stripe.NewVerifier(cfg.Card.WebhookSecret, cfg.Card.WebhookTolerance)
	} else {
		log.Warn().Msg("card payments disabled, STRIPE_SECRET_KEY or STRIPE_WEBHOOK_SECRET missing")
	}

	mm := cfg.MobileMoney
	if mm.ConsumerKey == "" || mm.ConsumerSecret == "" || mm.ShortCode == "" || mm.CallbackURL == "" {
		log.Warn().Msg("mobile money payments disabled, MPESA_* settings incomplete")
		return p
	}
	var cache mpesa.TokenCache
	if cfg.RedisAddr != "" {
		cache = mpesa.NewRedisTokenCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), mm.ShortCode)
	}
	p.MobileMoney = mpesa.NewClient(mpesa.Config{
		BaseURL:        mm.BaseURL,
		ConsumerKey:    mm.ConsumerKey,
		ConsumerSecret: mm.ConsumerSecret,
		ShortCode:      mm.ShortCode,
		PassKey:        mm.PassKey,
		CallbackURL:    mm.CallbackURL,
		Timeout:        cfg.ProviderTimeout,
	}, cache)
	return p
}
