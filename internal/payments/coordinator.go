package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/auth"
	"github.com/imrishuroy/go-checkout-payments/internal/notify"
	"github.com/imrishuroy/go-checkout-payments/internal/orders"
)

// Tx is the transactional store view used by the coordinator. Lock* methods
// take an exclusive row lock held until commit or rollback.
type Tx interface {
	// LockOrder returns (nil, nil) when the order does not exist.
	LockOrder(ctx context.Context, id string) (*orders.Order, error)
	HasPendingPayment(ctx context.Context, orderID string) (bool, error)
	// InsertPayment returns an apperr conflict when another pending payment
	// for the order already exists.
	InsertPayment(ctx context.Context, p *Payment) error
	// LockPendingPayment returns (nil, nil) when no pending payment matches.
	LockPendingPayment(ctx context.Context, key LookupKey) (*Payment, error)
	// FindPayment returns (nil, nil) when no payment of any status matches.
	FindPayment(ctx context.Context, key LookupKey) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	SetOrderStatus(ctx context.Context, id string, status orders.Status, at time.Time) error
}

// Repository runs coordinator transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Metrics receives payment counters.
type Metrics interface {
	PaymentInitiated(method, outcome string)
	CallbackReconciled(method, outcome string)
}

// Config is the coordinator configuration.
type Config struct {
	Currency        string
	ProviderTimeout time.Duration
}

// Coordinator initiates payments with providers and reconciles their callbacks
// with order state.
type Coordinator struct {
	repo       Repository
	strategies map[Method]strategy
	cfg        Config
	notifier   notify.Dispatcher
	metrics    Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// Providers groups the gateways; a nil gateway disables its method.
type Providers struct {
	Card        CardGateway
	CardWebhook WebhookVerifier
	MobileMoney MobileMoneyGateway
}

func NewCoordinator(repo Repository, p Providers, cfg Config, notifier notify.Dispatcher, m Metrics, log zerolog.Logger) *Coordinator {
	strategies := map[Method]strategy{}
	if p.Card != nil && p.CardWebhook != nil {
		strategies[MethodCard] = cardStrategy{gateway: p.Card, verifier: p.CardWebhook, currency: cfg.Currency}
	}
	if p.MobileMoney != nil {
		strategies[MethodMobileMoney] = mobileMoneyStrategy{gateway: p.MobileMoney}
	}
	return &Coordinator{
		repo:       repo,
		strategies: strategies,
		cfg:        cfg,
		notifier:   notifier,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

func (c *Coordinator) strategyFor(m Method) (strategy, error) {
	switch m {
	case MethodCard, MethodMobileMoney:
		if s, ok := c.strategies[m]; ok {
			return s, nil
		}
		return nil, apperr.Validation("method_unavailable", "payment method is not configured")
	default:
		return nil, apperr.Validation("unsupported_method", "unsupported payment method")
	}
}

// Initiate starts a payment for a PENDING order owned by the caller. The
// provider is called outside any transaction; the payment row is written in a
// second transaction that re-checks the order under lock.
func (c *Coordinator) Initiate(ctx context.Context, who auth.Identity, in InitiateInput) (res *InitiateResult, err error) {
	defer func() {
		outcome := "created"
		if err != nil {
			outcome = apperr.KindOf(err).String()
		}
		c.metrics.PaymentInitiated(string(in.Method), outcome)
	}()

	s, err := c.strategyFor(in.Method)
	if err != nil {
		return nil, err
	}
	if in.Method == MethodMobileMoney && strings.TrimSpace(in.Phone) == "" {
		return nil, apperr.ErrPhoneRequired
	}

	var order *orders.Order
	err = c.inTx(ctx, "initiate payment", func(tx Tx) error {
		o, err := checkPayable(ctx, tx, who, in.OrderID)
		order = o
		return err
	})
	if err != nil {
		return nil, err
	}

	paymentID := uuid.NewString()
	callCtx := ctx
	if c.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.ProviderTimeout)
		defer cancel()
	}
	att, err := s.initiate(callCtx, order, in, paymentID)
	if err != nil {
		c.log.Error().Err(err).Str("order_id", order.ID).Str("method", string(in.Method)).Msg("provider initiation failed")
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.Provider(string(in.Method), err)
	}

	var created *Payment
	err = c.inTx(ctx, "record payment", func(tx Tx) error {
		o, err := checkPayable(ctx, tx, who, in.OrderID)
		if err != nil {
			return err
		}
		now := c.now().UTC()
		p := &Payment{
			ID:            paymentID,
			UserID:        who.UserID,
			OrderID:       o.ID,
			Amount:        o.TotalPrice,
			Method:        in.Method,
			Status:        StatusPending,
			TransactionID: att.transactionID,
			CheckoutID:    att.checkoutID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("order_id", in.OrderID).Str("checkout_id", att.checkoutID).
			Msg("provider accepted a payment that was not recorded")
		return nil, err
	}

	c.log.Info().Str("payment_id", created.ID).Str("order_id", created.OrderID).
		Str("method", string(created.Method)).Str("checkout_id", created.CheckoutID).Msg("payment initiated")

	return &InitiateResult{
		Payment:         created,
		ClientSecret:    att.clientSecret,
		CheckoutID:      att.checkoutID,
		CustomerMessage: att.customerMessage,
	}, nil
}

// checkPayable locks the order and enforces ownership, PENDING status and the
// single pending payment rule.
func checkPayable(ctx context.Context, tx Tx, who auth.Identity, orderID string) (*orders.Order, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order not found")
	}
	if !who.Owns(o.UserID) {
		return nil, apperr.Forbidden("order belongs to another user")
	}
	if o.Status != orders.StatusPending {
		return nil, apperr.InvalidState("order is not awaiting payment")
	}
	pending, err := tx.HasPendingPayment(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, apperr.Conflict("a payment for this order is already pending")
	}
	return o, nil
}

// Reconcile applies a provider callback exactly once. Replays and callbacks
// for orders that already moved on are acknowledged without changes.
func (c *Coordinator) Reconcile(ctx context.Context, method Method, payload []byte, signature string) (res ReconcileResult, err error) {
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = apperr.KindOf(err).String()
		}
		c.metrics.CallbackReconciled(string(method), outcome)
	}()

	s, err := c.strategyFor(method)
	if err != nil {
		return ReconcileResult{}, err
	}
	cb, err := s.parseCallback(payload, signature)
	if err != nil {
		c.log.Warn().Err(err).Str("method", string(method)).Msg("callback rejected")
		return ReconcileResult{}, err
	}
	if cb.ignored {
		return ReconcileResult{Outcome: OutcomeIgnored}, nil
	}
	if cb.release {
		settled, err := c.releaseAttempt(ctx, s, method, cb.key)
		if err != nil {
			return ReconcileResult{}, err
		}
		if settled {
			return ReconcileResult{Outcome: OutcomeIgnored}, nil
		}
	}

	var (
		payment *Payment
		order   *orders.Order
	)
	err = c.repo.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockPendingPayment(ctx, cb.key)
		if err != nil {
			return err
		}
		if p == nil {
			existing, err := tx.FindPayment(ctx, cb.key)
			if err != nil {
				return err
			}
			if existing == nil {
				res = ReconcileResult{Outcome: OutcomeNotFound}
				return nil
			}
			res = ReconcileResult{Outcome: OutcomeAlreadyProcessed, PaymentID: existing.ID, OrderID: existing.OrderID}
			return nil
		}

		o, err := tx.LockOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if o == nil || o.Status != orders.StatusPending {
			res = ReconcileResult{Outcome: OutcomeAlreadyProcessed, PaymentID: p.ID, OrderID: p.OrderID}
			return nil
		}

		now := c.now().UTC()
		p.UpdatedAt = now
		if cb.success {
			p.Status = StatusCompleted
			if cb.transactionID != "" {
				p.TransactionID = cb.transactionID
			}
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			if err := tx.SetOrderStatus(ctx, o.ID, orders.StatusProcessing, now); err != nil {
				return err
			}
			o.Status = orders.StatusProcessing
			res = ReconcileResult{Outcome: OutcomeCompleted, PaymentID: p.ID, OrderID: o.ID}
		} else {
			p.Status = StatusFailed
			p.FailureReason = cb.reason
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			res = ReconcileResult{Outcome: OutcomeFailed, PaymentID: p.ID, OrderID: o.ID}
		}
		payment, order = p, o
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Str("method", string(method)).Str("key", cb.key.Value).Msg("reconciliation rolled back")
		return ReconcileResult{}, apperr.Internal("reconcile payment", err)
	}

	log := c.log.Info().Str("method", string(method)).Str("key", cb.key.Value).Str("result", string(res.Outcome))
	if res.PaymentID != "" {
		log = log.Str("payment_id", res.PaymentID).Str("order_id", res.OrderID)
	}
	log.Msg("callback reconciled")

	if payment != nil {
		c.notifyPayment(ctx, payment, order)
	}
	return res, nil
}

// releaseAttempt cancels the provider attempt behind a pending payment so it
// cannot be paid after the payment is marked failed. It reports settled when
// the provider says the attempt already reached a final state; the callback
// for that state decides the payment instead.
func (c *Coordinator) releaseAttempt(ctx context.Context, s strategy, method Method, key LookupKey) (settled bool, err error) {
	r, ok := s.(releaser)
	if !ok {
		return false, nil
	}
	var pending *Payment
	err = c.repo.WithTx(ctx, func(tx Tx) error {
		p, err := tx.FindPayment(ctx, key)
		if err != nil {
			return err
		}
		if p != nil && p.Status == StatusPending {
			pending = p
		}
		return nil
	})
	if err != nil {
		return false, apperr.Internal("reconcile payment", err)
	}
	if pending == nil {
		return false, nil
	}

	callCtx := ctx
	if c.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.ProviderTimeout)
		defer cancel()
	}
	err = r.release(callCtx, pending.TransactionID)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, errAttemptSettled):
		c.log.Info().Str("method", string(method)).Str("payment_id", pending.ID).
			Msg("attempt already settled, waiting for its final callback")
		return true, nil
	default:
		c.log.Error().Err(err).Str("method", string(method)).Str("payment_id", pending.ID).Msg("release attempt failed")
		return false, apperr.Internal("release payment attempt", err)
	}
}

func (c *Coordinator) notifyPayment(ctx context.Context, p *Payment, o *orders.Order) {
	t := notify.PaymentCompleted
	if p.Status == StatusFailed {
		t = notify.PaymentFailed
	}
	ev := notify.NewEvent(t, o.ID, o.UserID, o.UserEmail)
	ev.Status = string(o.Status)
	ev.Total = p.Amount
	ev.PaymentMethod = string(p.Method)
	ev.TransactionID = p.TransactionID
	ev.Reason = p.FailureReason
	if err := c.notifier.Dispatch(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("event_type", string(t)).Str("order_id", o.ID).Msg("notification dispatch failed")
	}
}

func (c *Coordinator) inTx(ctx context.Context, op string, fn func(Tx) error) error {
	err := c.repo.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	c.log.Error().Err(err).Str("op", op).Msg("payment transaction failed")
	return apperr.Internal(op, err)
}
