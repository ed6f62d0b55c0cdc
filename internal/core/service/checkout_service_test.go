package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hqpham/shop-checkout/internal/core/domain"
	"github.com/hqpham/shop-checkout/internal/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Mock stock ledger: same all-or-nothing contract as the Redis implementation,
// with scripted errors injected ahead of the counter logic.
type ledgerMock struct {
	mu           sync.Mutex
	counters     map[int64]int
	reserveErrs  []error
	restoreErr   error
	reserveCalls int
	restoreCalls int
}

func newLedgerMock(counters map[int64]int) *ledgerMock {
	if counters == nil {
		counters = make(map[int64]int)
	}
	return &ledgerMock{counters: counters}
}

func (m *ledgerMock) Initialize(_ context.Context, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[productID] = quantity
	return nil
}

func (m *ledgerMock) Reserve(_ context.Context, items map[int64]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserveCalls++

	if len(m.reserveErrs) > 0 {
		err := m.reserveErrs[0]
		m.reserveErrs = m.reserveErrs[1:]
		if err != nil {
			return err
		}
	}

	for productID, quantity := range items {
		if m.counters[productID] < quantity {
			return domain.ErrInsufficientStock
		}
	}
	for productID, quantity := range items {
		m.counters[productID] -= quantity
	}
	return nil
}

func (m *ledgerMock) Restore(_ context.Context, items map[int64]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreCalls++

	if m.restoreErr != nil {
		return m.restoreErr
	}
	for productID, quantity := range items {
		m.counters[productID] += quantity
	}
	return nil
}

func (m *ledgerMock) Available(_ context.Context, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[productID], nil
}

func (m *ledgerMock) counter(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[productID]
}

type contentsMock struct {
	mu    sync.Mutex
	carts map[int64]map[int64]int
}

func newContentsMock() *contentsMock {
	return &contentsMock{carts: make(map[int64]map[int64]int)}
}

func (m *contentsMock) AddItem(_ context.Context, userID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.carts[userID] == nil {
		m.carts[userID] = make(map[int64]int)
	}
	m.carts[userID][productID] += quantity
	return nil
}

func (m *contentsMock) Get(_ context.Context, userID int64) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make(map[int64]int, len(m.carts[userID]))
	for productID, quantity := range m.carts[userID] {
		items[productID] = quantity
	}
	return items, nil
}

func (m *contentsMock) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *contentsMock) has(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.carts[userID]) > 0
}

type committedOrder struct {
	orderID int64
	userID  int64
	cartID  int64
	total   decimal.Decimal
	payment domain.PaymentInfo
}

type storeMock struct {
	mu         sync.Mutex
	nextID     int64
	carts      map[int64]*domain.Cart
	commitErr  error
	orders     []committedOrder
	decrements map[int64]int
}

func newStoreMock() *storeMock {
	return &storeMock{
		carts:      make(map[int64]*domain.Cart),
		decrements: make(map[int64]int),
	}
}

func (m *storeMock) GetOrCreateOpenCart(_ context.Context, userID int64) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cart := range m.carts {
		if cart.UserID == userID && !cart.Placed {
			return *cart, nil
		}
	}

	m.nextID++
	cart := &domain.Cart{ID: m.nextID, UserID: userID, CreatedAt: time.Now()}
	m.carts[cart.ID] = cart
	return *cart, nil
}

func (m *storeMock) CommitOrder(_ context.Context, userID, cartID int64, items []domain.OrderItem, total decimal.Decimal, payment domain.PaymentInfo) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return 0, m.commitErr
	}

	cart, ok := m.carts[cartID]
	if !ok || cart.Placed || cart.UserID != userID {
		return 0, fmt.Errorf("cart %d is not open for user %d: %w", cartID, userID, domain.ErrDurableWriteFailure)
	}

	m.nextID++
	orderID := m.nextID
	cart.Placed = true
	cart.OrderID = &orderID
	m.orders = append(m.orders, committedOrder{
		orderID: orderID, userID: userID, cartID: cartID, total: total, payment: payment,
	})
	return orderID, nil
}

func (m *storeMock) DecrementInventory(_ context.Context, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrements[productID] += quantity
	return nil
}

func (m *storeMock) cart(cartID int64) domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.carts[cartID]
}

func (m *storeMock) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *storeMock) decremented(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrements[productID]
}

type catalogMock struct {
	prices map[int64]decimal.Decimal
}

func (m *catalogMock) GetUnitPrice(_ context.Context, productID int64) (decimal.Decimal, error) {
	price, ok := m.prices[productID]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("product %d: %w", productID, domain.ErrValidation)
	}
	return price, nil
}

type usersMock struct {
	byEmail map[string]int64
}

func (m *usersMock) GetUserID(_ context.Context, email string) (int64, error) {
	userID, ok := m.byEmail[email]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", email, domain.ErrValidation)
	}
	return userID, nil
}

type inventoryMock struct {
	onHand map[int64]int
}

func (m *inventoryMock) GetOnHandQuantity(_ context.Context, productID int64) (int, error) {
	quantity, ok := m.onHand[productID]
	if !ok {
		return 0, fmt.Errorf("inventory for product %d: %w", productID, domain.ErrValidation)
	}
	return quantity, nil
}

type fixture struct {
	ledger   *ledgerMock
	contents *contentsMock
	store    *storeMock
	catalog  *catalogMock
	users    *usersMock
	svc      *CheckoutService
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		ledger:   newLedgerMock(map[int64]int{1: 10, 2: 5}),
		contents: newContentsMock(),
		store:    newStoreMock(),
		catalog: &catalogMock{prices: map[int64]decimal.Decimal{
			1: decimal.NewFromFloat(9.99),
			2: decimal.NewFromFloat(5.00),
		}},
		users: &usersMock{byEmail: map[string]int64{}},
	}

	f.svc = NewCheckoutService(Deps{
		Ledger:    f.ledger,
		Contents:  f.contents,
		Store:     f.store,
		Catalog:   f.catalog,
		Users:     f.users,
		Inventory: &inventoryMock{onHand: map[int64]int{1: 10, 2: 5}},
	}, cfg, nil)

	t.Cleanup(f.svc.Close)
	return f
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

var paid = domain.PaymentInfo{Method: domain.PaymentMethodCreditCard, Status: domain.PaymentStatusPaid}

func TestPlaceOrder_HappyPath(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 2))
	require.NoError(t, f.svc.AddToCart(ctx, 7, 2, 1))

	orderID, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.NoError(t, err)
	require.NotZero(t, orderID)

	// Ledger decremented.
	assert.Equal(t, 8, f.ledger.counter(1))
	assert.Equal(t, 4, f.ledger.counter(2))

	// Durable order committed with the right total, cart placed and linked.
	require.Equal(t, 1, f.store.orderCount())
	order := f.store.orders[0]
	assert.True(t, order.total.Equal(decimal.NewFromFloat(24.98)), "total %s", order.total)
	assert.Equal(t, paid, order.payment)

	cart := f.store.cart(order.cartID)
	assert.True(t, cart.Placed)
	require.NotNil(t, cart.OrderID)
	assert.Equal(t, orderID, *cart.OrderID)

	// Transient contents cleared.
	assert.False(t, f.contents.has(7))

	// Mirror decremented once the sync queue drains.
	f.svc.Close()
	assert.Equal(t, 2, f.store.decremented(1))
	assert.Equal(t, 1, f.store.decremented(2))
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.PlaceOrder(context.Background(), 7, paid)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, f.ledger.reserveCalls)
	assert.Zero(t, f.store.orderCount())
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.contents.AddItem(ctx, 7, 999, 1))

	_, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, f.ledger.reserveCalls, "pricing failure must precede reservation")
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 11))

	_, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	// Zero side effects: counter untouched, no order, contents kept.
	assert.Equal(t, 10, f.ledger.counter(1))
	assert.Zero(t, f.store.orderCount())
	assert.True(t, f.contents.has(7))
	assert.Equal(t, 1, f.ledger.reserveCalls, "shortage must not be retried")
}

func TestPlaceOrder_ConflictRetriedThenSucceeds(t *testing.T) {
	f := newFixture(t, Config{Reserve: fastRetry(3)})
	ctx := context.Background()

	f.ledger.reserveErrs = []error{domain.ErrConcurrencyConflict}
	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 1))

	orderID, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.NoError(t, err)
	require.NotZero(t, orderID)
	assert.Equal(t, 2, f.ledger.reserveCalls)
	assert.Equal(t, 9, f.ledger.counter(1))
}

func TestPlaceOrder_ConflictExhaustsRetries(t *testing.T) {
	f := newFixture(t, Config{Reserve: fastRetry(3)})
	ctx := context.Background()

	f.ledger.reserveErrs = []error{
		domain.ErrConcurrencyConflict,
		domain.ErrConcurrencyConflict,
		domain.ErrConcurrencyConflict,
	}
	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 1))

	_, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, 3, f.ledger.reserveCalls)
	assert.Equal(t, 10, f.ledger.counter(1))
	assert.Zero(t, f.store.orderCount())
}

func TestPlaceOrder_CommitFailureRestoresReservation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.store.commitErr = fmt.Errorf("deadlock: %w", domain.ErrDurableWriteFailure)
	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 3))

	_, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.ErrorIs(t, err, domain.ErrDurableWriteFailure)

	var partial *domain.PartialFailureError
	assert.False(t, errors.As(err, &partial), "successful compensation is not a partial failure")

	// Counter restored to its pre-reservation value, contents kept for retry.
	assert.Equal(t, 10, f.ledger.counter(1))
	assert.Equal(t, 1, f.ledger.restoreCalls)
	assert.True(t, f.contents.has(7))
	assert.Zero(t, f.store.orderCount())
}

func TestPlaceOrder_TimeoutCountsAsDurableFailure(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.store.commitErr = context.DeadlineExceeded
	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 1))

	_, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.ErrorIs(t, err, domain.ErrDurableWriteFailure)
	assert.Equal(t, 10, f.ledger.counter(1))
}

func TestPlaceOrder_CompensationFailureIsPartialFailure(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.store.commitErr = fmt.Errorf("connection lost: %w", domain.ErrDurableWriteFailure)
	f.ledger.restoreErr = errors.New("ledger unreachable")
	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 3))

	_, err := f.svc.PlaceOrder(ctx, 7, paid)

	var partial *domain.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, int64(7), partial.UserID)
	assert.Equal(t, map[int64]int{1: 3}, partial.Items)
	assert.ErrorIs(t, partial.CommitErr, domain.ErrDurableWriteFailure)
	require.Error(t, partial.CompensateErr)

	// The reservation stuck: counter stays decremented, flagging real drift.
	assert.Equal(t, 7, f.ledger.counter(1))
}

func TestPlaceOrder_ConcurrentOversellPrevented(t *testing.T) {
	f := newFixture(t, Config{Reserve: fastRetry(3)})
	ctx := context.Background()

	// StockCounter(P1)=10; two users want 6 each. Exactly one can win.
	require.NoError(t, f.svc.AddToCart(ctx, 101, 1, 6))
	require.NoError(t, f.svc.AddToCart(ctx, 102, 1, 6))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, userID := range []int64{101, 102} {
		wg.Add(1)
		go func(slot int, userID int64) {
			defer wg.Done()
			_, results[slot] = f.svc.PlaceOrder(ctx, userID, paid)
		}(i, userID)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 4, f.ledger.counter(1))
	assert.Equal(t, 1, f.store.orderCount())
}

func TestPlaceOrder_SameOpenCartAcrossAttempts(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// A failed attempt must leave the cart open, and the retry must reuse it.
	f.store.commitErr = fmt.Errorf("transient: %w", domain.ErrDurableWriteFailure)
	require.NoError(t, f.svc.AddToCart(ctx, 7, 1, 1))

	_, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.ErrorIs(t, err, domain.ErrDurableWriteFailure)

	first, err := f.store.GetOrCreateOpenCart(ctx, 7)
	require.NoError(t, err)

	f.store.commitErr = nil
	orderID, err := f.svc.PlaceOrder(ctx, 7, paid)
	require.NoError(t, err)

	placed := f.store.cart(first.ID)
	assert.True(t, placed.Placed)
	require.NotNil(t, placed.OrderID)
	assert.Equal(t, orderID, *placed.OrderID)
}

func TestCheckout_ResolvesEmail(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	email := gofakeit.Email()
	f.users.byEmail[email] = 42
	require.NoError(t, f.svc.AddToCart(ctx, 42, 2, 1))

	orderID, err := f.svc.Checkout(ctx, email, paid)
	require.NoError(t, err)
	assert.NotZero(t, orderID)
}

func TestCheckout_UnknownEmail(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.Checkout(context.Background(), gofakeit.Email(), paid)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAddToCart_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.svc.AddToCart(context.Background(), 7, 1, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWarmLedger_SeedsCountersFromSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.ledger.counters = map[int64]int{}
	require.NoError(t, f.svc.WarmLedger(ctx, []int64{1, 2}))

	assert.Equal(t, 10, f.ledger.counter(1))
	assert.Equal(t, 5, f.ledger.counter(2))
}
