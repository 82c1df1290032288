package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-payments/internal/apperr"
	"github.com/imrishuroy/go-checkout-payments/internal/auth"
	"github.com/imrishuroy/go-checkout-payments/internal/cart"
	"github.com/imrishuroy/go-checkout-payments/internal/notify"
)

// memStore is an in-memory store. One mutex serialises transactions, which
// is a stricter version of the row locks the SQL store takes. Writes are staged
// on copies and only published on commit.
type memStore struct {
	mu      sync.Mutex
	orders  map[string]Order
	carts   map[int64][]cart.Line
	pending map[string]bool
	failOn  string
	// afterCartLines runs once the cart lines are read, standing in for a
	// cart write that commits between the locking read and the delete.
	afterCartLines func(tx *memTx, userID int64)
}

func newMemStore() *memStore {
	return &memStore{
		orders:  map[string]Order{},
		carts:   map[int64][]cart.Line{},
		pending: map[string]bool{},
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m, orders: map[string]Order{}, carts: map[int64][]cart.Line{}}
	for k, v := range m.orders {
		tx.orders[k] = v
	}
	for k, v := range m.carts {
		tx.carts[k] = append([]cart.Line(nil), v...)
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.orders, m.carts = tx.orders, tx.carts
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memStore) ListByUser(_ context.Context, userID int64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ListAll(_ context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

type memTx struct {
	store  *memStore
	orders map[string]Order
	carts  map[int64][]cart.Line
}

var errInjected = errors.New("injected failure")

func (t *memTx) fail(op string) error {
	if t.store.failOn == op {
		return errInjected
	}
	return nil
}

func (t *memTx) CartLines(_ context.Context, userID int64) ([]cart.Line, error) {
	if err := t.fail("CartLines"); err != nil {
		return nil, err
	}
	locked := append([]cart.Line(nil), t.carts[userID]...)
	if t.store.afterCartLines != nil {
		t.store.afterCartLines(t, userID)
	}
	return locked, nil
}

func (t *memTx) RemoveCartLines(_ context.Context, userID int64, productIDs []int64) error {
	if err := t.fail("RemoveCartLines"); err != nil {
		return err
	}
	remove := map[int64]bool{}
	for _, id := range productIDs {
		remove[id] = true
	}
	var kept []cart.Line
	for _, l := range t.carts[userID] {
		if !remove[l.ProductID] {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(t.carts, userID)
		return nil
	}
	t.carts[userID] = kept
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	t.orders[o.ID] = *o
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (t *memTx) UpdateAddresses(_ context.Context, id, shipping, billing string, at time.Time) error {
	o := t.orders[id]
	o.ShippingAddress, o.BillingAddress, o.UpdatedAt = shipping, billing, at
	t.orders[id] = o
	return nil
}

func (t *memTx) SetOrderStatus(_ context.Context, id string, status Status, at time.Time) error {
	if err := t.fail("SetOrderStatus"); err != nil {
		return err
	}
	o := t.orders[id]
	o.Status, o.UpdatedAt = status, at
	t.orders[id] = o
	return nil
}

func (t *memTx) HasPendingPayment(_ context.Context, orderID string) (bool, error) {
	return t.store.pending[orderID], nil
}

func (t *memTx) DeleteOrder(_ context.Context, id string) error {
	delete(t.orders, id)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Dispatch(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) types() []notify.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Type
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

var (
	alice = auth.Identity{UserID: 1, Email: "alice@example.com", Role: auth.RoleCustomer}
	bob   = auth.Identity{UserID: 2, Email: "bob@example.com", Role: auth.RoleCustomer}
	admin = auth.Identity{UserID: 99, Email: "ops@example.com", Role: auth.RoleAdmin}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seededEngine(t *testing.T) (*Engine, *memStore, *recordingNotifier) {
	t.Helper()
	store := newMemStore()
	store.carts[alice.UserID] = []cart.Line{
		{ProductID: 10, Quantity: 2, UnitPrice: dec("10.00"), Available: true},
		{ProductID: 11, Quantity: 1, UnitPrice: dec("5.00"), Available: true},
	}
	n := &recordingNotifier{}
	return NewEngine(store, n, zerolog.Nop()), store, n
}

func TestCreateFromCart_TotalsFreezesPricesAndClearsCart(t *testing.T) {
	eng, store, n := seededEngine(t)

	o, err := eng.CreateFromCart(context.Background(), alice, CreateInput{ShippingAddress: "1 Main St", BillingAddress: "1 Main St"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !o.TotalPrice.Equal(dec("25.00")) {
		t.Fatalf("expected total 25.00, got %s", o.TotalPrice)
	}
	if o.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", o.Status)
	}
	if len(o.Items) != 2 || !o.Items[0].Price.Equal(dec("10.00")) || !o.Items[1].Price.Equal(dec("5.00")) {
		t.Fatalf("unexpected items %+v", o.Items)
	}
	if len(store.carts[alice.UserID]) != 0 {
		t.Fatalf("expected cart to be empty after checkout")
	}
	if _, ok := store.orders[o.ID]; !ok {
		t.Fatalf("order not persisted")
	}
	if got := n.types(); len(got) != 1 || got[0] != notify.OrderConfirmed {
		t.Fatalf("expected one confirmation, got %v", got)
	}

	// later catalog changes do not touch the frozen snapshot
	store.carts[alice.UserID] = []cart.Line{{ProductID: 10, Quantity: 1, UnitPrice: dec("99.00"), Available: true}}
	again, _ := eng.Get(context.Background(), alice, o.ID)
	if !again.TotalPrice.Equal(dec("25.00")) || !again.Items[0].Price.Equal(dec("10.00")) {
		t.Fatalf("frozen snapshot changed: %+v", again)
	}
}

func TestCreateFromCart_KeepsLineAddedAfterLocking(t *testing.T) {
	eng, store, _ := seededEngine(t)
	store.afterCartLines = func(tx *memTx, userID int64) {
		tx.carts[userID] = append(tx.carts[userID], cart.Line{ProductID: 12, Quantity: 3, UnitPrice: dec("1.00"), Available: true})
	}

	o, err := eng.CreateFromCart(context.Background(), alice, CreateInput{ShippingAddress: "1 Main St"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(o.Items) != 2 || !o.TotalPrice.Equal(dec("25.00")) {
		t.Fatalf("order must only hold the locked lines, got %d items total %s", len(o.Items), o.TotalPrice)
	}
	left := store.carts[alice.UserID]
	if len(left) != 1 || left[0].ProductID != 12 {
		t.Fatalf("expected the late line to stay in the cart, got %+v", left)
	}
}

func TestCreateFromCart_UsesProvidedID(t *testing.T) {
	eng, _, _ := seededEngine(t)
	o, err := eng.CreateFromCart(context.Background(), alice, CreateInput{OrderID: "fixed-id"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if o.ID != "fixed-id" {
		t.Fatalf("expected preset id, got %s", o.ID)
	}
}

func TestCreateFromCart_EmptyCart(t *testing.T) {
	eng, _, n := seededEngine(t)
	_, err := eng.CreateFromCart(context.Background(), bob, CreateInput{})
	if !errors.Is(err, apperr.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if len(n.types()) != 0 {
		t.Fatalf("no notification expected")
	}
}

func TestCreateFromCart_UnavailableProduct(t *testing.T) {
	eng, store, _ := seededEngine(t)
	store.carts[alice.UserID][1].Available = false

	_, err := eng.CreateFromCart(context.Background(), alice, CreateInput{})
	if !errors.Is(err, apperr.ErrProductUnavailable) {
		t.Fatalf("expected product unavailable, got %v", err)
	}
	if len(store.orders) != 0 || len(store.carts[alice.UserID]) != 2 {
		t.Fatalf("expected no partial state")
	}
}

func TestCreateFromCart_RollsBackOnMidTransactionFailure(t *testing.T) {
	eng, store, n := seededEngine(t)
	store.failOn = "RemoveCartLines"

	_, err := eng.CreateFromCart(context.Background(), alice, CreateInput{})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if len(store.orders) != 0 {
		t.Fatalf("order must not persist after rollback, got %d", len(store.orders))
	}
	if len(store.carts[alice.UserID]) != 2 {
		t.Fatalf("cart must be intact after rollback")
	}
	if len(n.types()) != 0 {
		t.Fatalf("no notification expected on rollback")
	}
}

func TestCreateFromCart_ConcurrentCheckoutsProduceOneOrder(t *testing.T) {
	eng, store, _ := seededEngine(t)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.CreateFromCart(context.Background(), alice, CreateInput{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, apperr.ErrEmptyCart) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || len(store.orders) != 1 {
		t.Fatalf("expected exactly one order, got ok=%d orders=%d", ok, len(store.orders))
	}
}

func createOrder(t *testing.T, eng *Engine) *Order {
	t.Helper()
	o, err := eng.CreateFromCart(context.Background(), alice, CreateInput{ShippingAddress: "old", BillingAddress: "bill"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return o
}

func TestGetAndList_Scoping(t *testing.T) {
	eng, _, _ := seededEngine(t)
	o := createOrder(t, eng)
	ctx := context.Background()

	if _, err := eng.Get(ctx, bob, o.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("other users must not see the order, got %v", err)
	}
	if _, err := eng.Get(ctx, admin, o.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	list, _ := eng.List(ctx, bob)
	if len(list) != 0 {
		t.Fatalf("bob should see no orders")
	}
	list, _ = eng.List(ctx, admin)
	if len(list) != 1 {
		t.Fatalf("admin should see all orders")
	}
}

func TestUpdateAddress(t *testing.T) {
	eng, store, n := seededEngine(t)
	o := createOrder(t, eng)
	ctx := context.Background()

	billing := "new billing"
	if _, err := eng.UpdateAddress(ctx, alice, o.ID, AddressInput{BillingAddress: &billing}); err != nil {
		t.Fatalf("update billing: %v", err)
	}
	if len(n.types()) != 1 {
		t.Fatalf("billing-only change must not notify, got %v", n.types())
	}

	shipping := "2 Side St"
	got, err := eng.UpdateAddress(ctx, alice, o.ID, AddressInput{ShippingAddress: &shipping})
	if err != nil {
		t.Fatalf("update shipping: %v", err)
	}
	if got.ShippingAddress != shipping || got.BillingAddress != billing {
		t.Fatalf("unexpected addresses %+v", got)
	}
	if !store.orders[o.ID].TotalPrice.Equal(dec("25.00")) {
		t.Fatalf("total must not change")
	}
	if types := n.types(); types[len(types)-1] != notify.OrderAddressUpdated {
		t.Fatalf("expected address notification, got %v", types)
	}

	if _, err := eng.UpdateAddress(ctx, bob, o.ID, AddressInput{ShippingAddress: &shipping}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found for other user, got %v", err)
	}

	if _, err := eng.UpdateStatus(ctx, admin, o.ID, StatusInput{Status: "PROCESSING"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := eng.UpdateAddress(ctx, alice, o.ID, AddressInput{ShippingAddress: &shipping}); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid state once processing, got %v", err)
	}
}

func TestUpdateStatus_Rules(t *testing.T) {
	eng, _, n := seededEngine(t)
	o := createOrder(t, eng)
	ctx := context.Background()

	if _, err := eng.UpdateStatus(ctx, alice, o.ID, StatusInput{Status: "PROCESSING"}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for customer, got %v", err)
	}
	if _, err := eng.UpdateStatus(ctx, admin, o.ID, StatusInput{Status: "LOST"}); !errors.Is(err, apperr.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := eng.UpdateStatus(ctx, admin, o.ID, StatusInput{Status: "SHIPPED"}); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected skipping states to fail, got %v", err)
	}
	if _, err := eng.UpdateStatus(ctx, admin, "missing", StatusInput{Status: "SHIPPED"}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	before := len(n.types())
	if _, err := eng.UpdateStatus(ctx, admin, o.ID, StatusInput{Status: "PENDING"}); err != nil {
		t.Fatalf("no-op: %v", err)
	}
	if len(n.types()) != before {
		t.Fatalf("no-op must not notify")
	}

	if _, err := eng.UpdateStatus(ctx, admin, o.ID, StatusInput{Status: "PROCESSING"}); err != nil {
		t.Fatalf("processing: %v", err)
	}
	got, err := eng.UpdateStatus(ctx, admin, o.ID, StatusInput{Status: "SHIPPED", TrackingNumber: "TRK-1"})
	if err != nil {
		t.Fatalf("shipped: %v", err)
	}
	if got.Status != StatusShipped {
		t.Fatalf("expected SHIPPED, got %s", got.Status)
	}
	last := n.events[len(n.events)-1]
	if last.Type != notify.OrderShipped || last.TrackingNumber != "TRK-1" {
		t.Fatalf("expected shipped event with tracking, got %+v", last)
	}
	prev := n.events[len(n.events)-2]
	if prev.Type != notify.OrderStatusUpdated || prev.PreviousStatus != "PROCESSING" {
		t.Fatalf("expected status event from PROCESSING, got %+v", prev)
	}
}

func TestUpdateStatus_CancelBlockedByPendingPayment(t *testing.T) {
	eng, store, _ := seededEngine(t)
	o := createOrder(t, eng)
	store.pending[o.ID] = true

	if _, err := eng.UpdateStatus(context.Background(), admin, o.ID, StatusInput{Status: "CANCELLED"}); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestDelete_OnlyPending(t *testing.T) {
	eng, store, n := seededEngine(t)
	o := createOrder(t, eng)
	ctx := context.Background()

	if _, err := eng.UpdateStatus(ctx, admin, o.ID, StatusInput{Status: "PROCESSING"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	_, err := eng.Delete(ctx, alice, o.ID)
	if apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if got := store.orders[o.ID]; got.Status != StatusProcessing {
		t.Fatalf("order must persist unchanged, got %+v", got)
	}
	for _, typ := range n.types() {
		if typ == notify.OrderCancelled {
			t.Fatalf("no cancellation notice expected")
		}
	}
}

func TestDelete_PendingOrder(t *testing.T) {
	eng, store, n := seededEngine(t)
	o := createOrder(t, eng)

	res, err := eng.Delete(context.Background(), alice, o.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !res.NotificationSent || res.OrderID != o.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := store.orders[o.ID]; ok {
		t.Fatalf("order should be gone")
	}
	if types := n.types(); types[len(types)-1] != notify.OrderCancelled {
		t.Fatalf("expected cancellation event, got %v", types)
	}
}

func TestDelete_NotificationFailureIsReported(t *testing.T) {
	eng, store, n := seededEngine(t)
	o := createOrder(t, eng)
	n.err = errors.New("queue unavailable")

	res, err := eng.Delete(context.Background(), alice, o.ID)
	if err != nil {
		t.Fatalf("delete must succeed: %v", err)
	}
	if res.NotificationSent {
		t.Fatalf("expected NotificationSent=false")
	}
	if _, ok := store.orders[o.ID]; ok {
		t.Fatalf("order should be gone")
	}
}

func TestDelete_PendingPaymentAndOwnership(t *testing.T) {
	eng, store, _ := seededEngine(t)
	o := createOrder(t, eng)
	ctx := context.Background()

	if _, err := eng.Delete(ctx, bob, o.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	store.pending[o.ID] = true
	if _, err := eng.Delete(ctx, alice, o.ID); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid state with pending payment, got %v", err)
	}
}

func TestStatusMachine(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusPending, StatusProcessing}: true,
		{StatusPending, StatusCancelled}:  true,
		{StatusProcessing, StatusShipped}: true,
		{StatusShipped, StatusDelivered}:  true,
	}
	all := []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransitionTo(to); got != legal[[2]Status{from, to}] {
				t.Fatalf("%s -> %s: got %v", from, to, got)
			}
		}
	}
	if !StatusDelivered.Terminal() || !StatusCancelled.Terminal() || StatusPending.Terminal() {
		t.Fatalf("unexpected terminal states")
	}
}
