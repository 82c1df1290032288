package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/auth"
	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/notify"
)

// Tx is the transactional view of the store used by the engine. Lock* methods
// hold an exclusive row lock until the transaction ends.
type Tx interface {
	// CartLines locks the user's cart lines and prices them at the current catalog price.
	CartLines(ctx context.Context, userID int64) ([]cart.Line, error)
	// RemoveCartLines deletes only the given lines, so a line added after
	// CartLines took its locks stays in the cart.
	RemoveCartLines(ctx context.Context, userID int64, productIDs []int64) error
	InsertOrder(ctx context.Context, o *Order) error
	// LockOrder returns (nil, nil) when the order does not exist.
	LockOrder(ctx context.Context, id string) (*Order, error)
	UpdateAddresses(ctx context.Context, id, shipping, billing string, at time.Time) error
	SetOrderStatus(ctx context.Context, id string, status Status, at time.Time) error
	HasPendingPayment(ctx context.Context, orderID string) (bool, error)
	DeleteOrder(ctx context.Context, id string) error
}

// Repository runs transactions and serves reads.
type Repository interface {
	// WithTx commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Tx) error) error
	// Get returns (nil, nil) when the order does not exist.
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
}

// Engine owns the order lifecycle: checkout, address changes, status
// transitions and cancellation.
type Engine struct {
	repo     Repository
	notifier notify.Dispatcher
	log      zerolog.Logger
	now      func() time.Time
}

func NewEngine(repo Repository, notifier notify.Dispatcher, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, notifier: notifier, log: log, now: time.Now}
}

// CreateFromCart turns the caller's cart into a PENDING order in one
// transaction: lines are locked and priced, the order and its frozen items are
// inserted and the cart is emptied.
func (e *Engine) CreateFromCart(ctx context.Context, who auth.Identity, in CreateInput) (*Order, error) {
	id := in.OrderID
	if id == "" {
		id = uuid.NewString()
	}
	var created *Order
	err := e.inTx(ctx, "create order", func(tx Tx) error {
		lines, err := tx.CartLines(ctx, who.UserID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return apperr.ErrEmptyCart
		}

		now := e.now().UTC()
		o := &Order{
			ID:              id,
			UserID:          who.UserID,
			UserEmail:       who.Email,
			Status:          StatusPending,
			ShippingAddress: in.ShippingAddress,
			BillingAddress:  in.BillingAddress,
			TotalPrice:      decimal.Zero,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		productIDs := make([]int64, 0, len(lines))
		for _, l := range lines {
			if !l.Available {
				return apperr.Validation(apperr.ErrProductUnavailable.Code,
					fmt.Sprintf("product %d is not available", l.ProductID))
			}
			o.Items = append(o.Items, Item{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.UnitPrice})
			o.TotalPrice = o.TotalPrice.Add(l.Subtotal())
			productIDs = append(productIDs, l.ProductID)
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.RemoveCartLines(ctx, who.UserID, productIDs); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("order_id", created.ID).Int64("user_id", who.UserID).
		Str("total", created.TotalPrice.StringFixed(2)).Int("items", len(created.Items)).Msg("order created")

	ev := e.event(notify.OrderConfirmed, created)
	e.dispatch(ctx, ev)
	return created, nil
}

func (e *Engine) Get(ctx context.Context, who auth.Identity, id string) (*Order, error) {
	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load order", err)
	}
	if o == nil || !visible(who, o) {
		return nil, apperr.NotFound("order not found")
	}
	return o, nil
}

// List returns the caller's orders, or every order for an admin.
func (e *Engine) List(ctx context.Context, who auth.Identity) ([]Order, error) {
	var (
		out []Order
		err error
	)
	if who.IsAdmin() {
		out, err = e.repo.ListAll(ctx)
	} else {
		out, err = e.repo.ListByUser(ctx, who.UserID)
	}
	if err != nil {
		return nil, apperr.Internal("list orders", err)
	}
	if out == nil {
		out = []Order{}
	}
	return out, nil
}

// UpdateAddress overwrites addresses of a PENDING order. The total is untouched.
func (e *Engine) UpdateAddress(ctx context.Context, who auth.Identity, id string, in AddressInput) (*Order, error) {
	var (
		updated         *Order
		shippingChanged bool
	)
	err := e.inTx(ctx, "update address", func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if o == nil || !visible(who, o) {
			return apperr.NotFound("order not found")
		}
		if o.Status != StatusPending {
			return apperr.InvalidState("address can only be changed while the order is pending")
		}

		shipping, billing := o.ShippingAddress, o.BillingAddress
		if in.ShippingAddress != nil {
			shippingChanged = *in.ShippingAddress != o.ShippingAddress
			shipping = *in.ShippingAddress
		}
		if in.BillingAddress != nil {
			billing = *in.BillingAddress
		}
		now := e.now().UTC()
		if err := tx.UpdateAddresses(ctx, id, shipping, billing, now); err != nil {
			return err
		}
		o.ShippingAddress, o.BillingAddress, o.UpdatedAt = shipping, billing, now
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if shippingChanged {
		e.dispatch(ctx, e.event(notify.OrderAddressUpdated, updated))
	}
	return updated, nil
}

// UpdateStatus moves an order along the state machine. Admin only. Setting
// the current status again is a silent no-op.
func (e *Engine) UpdateStatus(ctx context.Context, who auth.Identity, id string, in StatusInput) (*Order, error) {
	if !who.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can change order status")
	}
	target, err := ParseStatus(in.Status)
	if err != nil {
		return nil, err
	}

	var (
		updated  *Order
		previous Status
	)
	err = e.inTx(ctx, "update status", func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return apperr.NotFound("order not found")
		}
		previous = o.Status
		if o.Status == target {
			updated = o
			return nil
		}
		if !o.Status.CanTransitionTo(target) {
			return apperr.InvalidState(fmt.Sprintf("cannot move order from %s to %s", o.Status, target))
		}
		if target == StatusCancelled {
			pending, err := tx.HasPendingPayment(ctx, id)
			if err != nil {
				return err
			}
			if pending {
				return apperr.InvalidState("order has a payment in progress")
			}
		}
		now := e.now().UTC()
		if err := tx.SetOrderStatus(ctx, id, target, now); err != nil {
			return err
		}
		o.Status, o.UpdatedAt = target, now
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if previous == target {
		return updated, nil
	}

	e.log.Info().Str("order_id", id).Str("from", string(previous)).Str("to", string(target)).Msg("order status changed")

	ev := e.event(notify.OrderStatusUpdated, updated)
	ev.PreviousStatus = string(previous)
	e.dispatch(ctx, ev)
	if target == StatusShipped {
		shipped := e.event(notify.OrderShipped, updated)
		shipped.TrackingNumber = in.TrackingNumber
		e.dispatch(ctx, shipped)
	}
	return updated, nil
}

// Delete removes a PENDING order and its items. A failed cancellation notice
// does not undo the delete; it is reported in the result.
func (e *Engine) Delete(ctx context.Context, who auth.Identity, id string) (DeleteResult, error) {
	var deleted *Order
	err := e.inTx(ctx, "delete order", func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if o == nil || !visible(who, o) {
			return apperr.NotFound("order not found")
		}
		if o.Status != StatusPending {
			return apperr.InvalidState("only pending orders can be cancelled")
		}
		pending, err := tx.HasPendingPayment(ctx, id)
		if err != nil {
			return err
		}
		if pending {
			return apperr.InvalidState("order has a payment in progress")
		}
		if err := tx.DeleteOrder(ctx, id); err != nil {
			return err
		}
		deleted = o
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}

	e.log.Info().Str("order_id", id).Int64("user_id", who.UserID).Msg("order cancelled")
	sent := e.dispatch(ctx, e.event(notify.OrderCancelled, deleted))
	return DeleteResult{OrderID: id, NotificationSent: sent}, nil
}

func (e *Engine) inTx(ctx context.Context, op string, fn func(Tx) error) error {
	err := e.repo.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	e.log.Error().Err(err).Str("op", op).Msg("order transaction failed")
	return apperr.Internal(op, err)
}

func (e *Engine) event(t notify.Type, o *Order) notify.Event {
	ev := notify.NewEvent(t, o.ID, o.UserID, o.UserEmail)
	ev.Status = string(o.Status)
	ev.Total = o.TotalPrice
	ev.ShippingAddress = o.ShippingAddress
	return ev
}

func (e *Engine) dispatch(ctx context.Context, ev notify.Event) bool {
	if err := e.notifier.Dispatch(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event_type", string(ev.Type)).Str("order_id", ev.OrderID).Msg("notification dispatch failed")
		return false
	}
	return true
}

func visible(who auth.Identity, o *Order) bool {
	return who.IsAdmin() || who.Owns(o.UserID)
}
