package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hqpham/shop-checkout/internal/core/domain"
	"github.com/hqpham/shop-checkout/internal/port"
	"github.com/hqpham/shop-checkout/internal/retry"
)

const inventorySyncTimeout = 5 * time.Second

// Config tunes the coordinator. Zero values fall back to sane defaults.
type Config struct {
	// Reserve bounds retries of the optimistic reservation batch. Only
	// domain.ErrConcurrencyConflict is retried; shortages are terminal.
	Reserve retry.Policy

	// ReserveTimeout and CommitTimeout bound the volatile and durable round
	// trips. Zero disables the bound. A deadline hit during the durable phase
	// counts as a durable write failure and triggers compensation.
	ReserveTimeout time.Duration
	CommitTimeout  time.Duration

	SyncWorkers   int
	SyncQueueSize int
}

// Deps are the collaborators the coordinator orchestrates. All of them are
// injected; the service owns no connections of its own.
type Deps struct {
	Ledger    port.StockLedger
	Contents  port.CartContents
	Store     port.OrderStore
	Catalog   port.Catalog
	Users     port.UserDirectory
	Inventory port.InventorySource
}

type syncTask struct {
	productID int64
	quantity  int
}

// CheckoutService coordinates the reserve-then-commit order path: volatile
// stock reservation first, durable Payment/Orders/Shopping_cart transaction
// second, compensation in between when the second half fails. The durable
// inventory mirror is synchronized asynchronously by a small worker pool.
type CheckoutService struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	syncQueue chan syncTask
	syncWG    sync.WaitGroup
	closeOnce sync.Once
}

func NewCheckoutService(deps Deps, cfg Config, logger *zap.Logger) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SyncWorkers <= 0 {
		cfg.SyncWorkers = 2
	}
	if cfg.SyncQueueSize <= 0 {
		cfg.SyncQueueSize = 1024
	}

	s := &CheckoutService{
		deps:      deps,
		cfg:       cfg,
		logger:    logger,
		syncQueue: make(chan syncTask, cfg.SyncQueueSize),
	}

	for i := 0; i < cfg.SyncWorkers; i++ {
		s.syncWG.Add(1)
		go s.syncWorker(i)
	}
	return s
}

// Close drains the inventory sync queue and stops the workers.
func (s *CheckoutService) Close() {
	s.closeOnce.Do(func() {
		close(s.syncQueue)
		s.syncWG.Wait()
	})
}

// WarmLedger seeds the stock counters from the durable inventory snapshot.
func (s *CheckoutService) WarmLedger(ctx context.Context, productIDs []int64) error {
	for _, productID := range productIDs {
		quantity, err := s.deps.Inventory.GetOnHandQuantity(ctx, productID)
		if err != nil {
			return fmt.Errorf("snapshot product %d: %w", productID, err)
		}
		if err := s.deps.Ledger.Initialize(ctx, productID, quantity); err != nil {
			return fmt.Errorf("initialize product %d: %w", productID, err)
		}
		s.logger.Info("stock counter initialized",
			zap.Int64("product_id", productID), zap.Int("quantity", quantity))
	}
	return nil
}

// AddToCart accumulates the user's transient selection.
func (s *CheckoutService) AddToCart(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity %d for product %d: %w", quantity, productID, domain.ErrValidation)
	}
	if _, err := s.deps.Catalog.GetUnitPrice(ctx, productID); err != nil {
		return fmt.Errorf("product %d: %w", productID, err)
	}
	return s.deps.Contents.AddItem(ctx, userID, productID, quantity)
}

// Checkout resolves the user by email and places the order.
func (s *CheckoutService) Checkout(ctx context.Context, email string, payment domain.PaymentInfo) (int64, error) {
	userID, err := s.deps.Users.GetUserID(ctx, email)
	if err != nil {
		return 0, err
	}
	return s.PlaceOrder(ctx, userID, payment)
}

// PlaceOrder turns the user's transient cart into a durable order.
//
// Phases run strictly in sequence: price, open cart, reserve, commit. The
// reservation makes the decrement authoritative in the ledger before the
// durable transaction starts, so concurrent orders against the same products
// cannot oversell the reserved quantity. A durable failure after a successful
// reservation must restore the counters; when even that fails the error is a
// *domain.PartialFailureError, loud and distinct from ordinary failure.
func (s *CheckoutService) PlaceOrder(ctx context.Context, userID int64, payment domain.PaymentInfo) (int64, error) {
	items, total, err := s.priceCart(ctx, userID)
	if err != nil {
		return 0, err
	}

	cart, err := s.deps.Store.GetOrCreateOpenCart(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("open cart: %w", err)
	}

	requested := make(map[int64]int, len(items))
	for _, item := range items {
		requested[item.ProductID] = item.Quantity
	}

	if err := s.reserve(ctx, requested); err != nil {
		return 0, err
	}

	orderID, err := s.commit(ctx, userID, cart.ID, items, total, payment)
	if err != nil {
		return 0, s.compensate(ctx, userID, requested, err)
	}

	for _, item := range items {
		s.enqueueSync(item.ProductID, item.Quantity)
	}
	if err := s.deps.Contents.Clear(ctx, userID); err != nil {
		// The order stands; a stale transient cart only risks a later
		// double-order attempt, which the placed cart row rejects.
		s.logger.Warn("clearing transient cart failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}

	s.logger.Info("order placed",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID),
		zap.Int64("cart_id", cart.ID),
		zap.String("total", total.StringFixed(2)))
	return orderID, nil
}

func (s *CheckoutService) priceCart(ctx context.Context, userID int64) ([]domain.OrderItem, decimal.Decimal, error) {
	contents, err := s.deps.Contents.Get(ctx, userID)
	if err != nil {
		return nil, decimal.Decimal{}, fmt.Errorf("read cart contents: %w", err)
	}
	if len(contents) == 0 {
		return nil, decimal.Decimal{}, fmt.Errorf("user %d has an empty cart: %w", userID, domain.ErrValidation)
	}

	items := make([]domain.OrderItem, 0, len(contents))
	total := decimal.Zero
	for productID, quantity := range contents {
		if quantity <= 0 {
			return nil, decimal.Decimal{}, fmt.Errorf("product %d quantity %d: %w",
				productID, quantity, domain.ErrValidation)
		}
		price, err := s.deps.Catalog.GetUnitPrice(ctx, productID)
		if err != nil {
			return nil, decimal.Decimal{}, fmt.Errorf("price product %d: %w", productID, err)
		}
		items = append(items, domain.OrderItem{ProductID: productID, Quantity: quantity, UnitPrice: price})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(quantity))))
	}
	return items, total, nil
}

func (s *CheckoutService) reserve(ctx context.Context, requested map[int64]int) error {
	reserveCtx, cancel := phaseContext(ctx, s.cfg.ReserveTimeout)
	defer cancel()

	err := s.cfg.Reserve.Do(reserveCtx, func() error {
		return s.deps.Ledger.Reserve(reserveCtx, requested)
	}, func(err error) bool {
		return errors.Is(err, domain.ErrConcurrencyConflict)
	})
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	return nil
}

func (s *CheckoutService) commit(ctx context.Context, userID, cartID int64, items []domain.OrderItem, total decimal.Decimal, payment domain.PaymentInfo) (int64, error) {
	commitCtx, cancel := phaseContext(ctx, s.cfg.CommitTimeout)
	defer cancel()

	orderID, err := s.deps.Store.CommitOrder(commitCtx, userID, cartID, items, total, payment)
	if err != nil && !errors.Is(err, domain.ErrDurableWriteFailure) {
		// Timeouts and transport errors from the durable phase are durable
		// write failures for the caller: the transaction did not commit.
		err = fmt.Errorf("%w: %w", domain.ErrDurableWriteFailure, err)
	}
	return orderID, err
}

// compensate undoes the reservation after a durable failure. It deliberately
// ignores the request context's cancellation: the reservation must be restored
// even when the caller has already gone away.
func (s *CheckoutService) compensate(ctx context.Context, userID int64, requested map[int64]int, commitErr error) error {
	restoreCtx, cancel := phaseContext(context.WithoutCancel(ctx), s.cfg.ReserveTimeout)
	defer cancel()

	if restoreErr := s.deps.Ledger.Restore(restoreCtx, requested); restoreErr != nil {
		err := &domain.PartialFailureError{
			UserID:        userID,
			Items:         requested,
			CommitErr:     commitErr,
			CompensateErr: restoreErr,
		}
		s.logger.Error("PARTIAL FAILURE: reservation not restored, manual reconciliation required",
			zap.Int64("user_id", userID),
			zap.Any("items", requested),
			zap.NamedError("commit_error", commitErr),
			zap.NamedError("restore_error", restoreErr))
		return err
	}

	s.logger.Warn("order commit failed, reservation restored",
		zap.Int64("user_id", userID), zap.Error(commitErr))
	return commitErr
}

func (s *CheckoutService) enqueueSync(productID int64, quantity int) {
	select {
	case s.syncQueue <- syncTask{productID: productID, quantity: quantity}:
	default:
		// Dropping is safe: the mirror is best-effort and the reconciler
		// reports the drift.
		s.logger.Warn("inventory sync queue full, dropping mirror decrement",
			zap.Int64("product_id", productID), zap.Int("quantity", quantity))
	}
}

func (s *CheckoutService) syncWorker(id int) {
	defer s.syncWG.Done()

	for task := range s.syncQueue {
		ctx, cancel := context.WithTimeout(context.Background(), inventorySyncTimeout)
		if err := s.deps.Store.DecrementInventory(ctx, task.productID, task.quantity); err != nil {
			s.logger.Error("inventory mirror decrement failed",
				zap.Int("worker", id),
				zap.Int64("product_id", task.productID),
				zap.Int("quantity", task.quantity),
				zap.Error(err))
		}
		cancel()
	}
}

func phaseContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
