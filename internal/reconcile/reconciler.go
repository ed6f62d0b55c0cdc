// Package reconcile watches for drift between the volatile stock ledger and
// the durable inventory mirror. The mirror is expected to lag while sync tasks
// are in flight; persistent drift means a dropped sync or an unrecovered
// partial failure, and someone should look at it.
package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hqpham/shop-checkout/internal/port"
)

const runTimeout = 30 * time.Second

// Drift is one product whose ledger counter and durable row disagree.
type Drift struct {
	ProductID int64
	Ledger    int
	Durable   int
}

type Reconciler struct {
	ledger    port.StockLedger
	inventory port.InventorySource
	products  []int64
	logger    *zap.Logger
	cron      *cron.Cron
}

func New(ledger port.StockLedger, inventory port.InventorySource, products []int64, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		ledger:    ledger,
		inventory: inventory,
		products:  products,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules periodic runs with a standard 5-field cron expression.
func (r *Reconciler) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		r.Run(ctx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info("reconciler started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// Run compares every configured product once and reports mismatches. It never
// mutates either store; repair is a manual decision.
func (r *Reconciler) Run(ctx context.Context) []Drift {
	var drifts []Drift

	for _, productID := range r.products {
		available, err := r.ledger.Available(ctx, productID)
		if err != nil {
			r.logger.Error("reconcile: ledger read failed",
				zap.Int64("product_id", productID), zap.Error(err))
			continue
		}

		onHand, err := r.inventory.GetOnHandQuantity(ctx, productID)
		if err != nil {
			r.logger.Error("reconcile: durable read failed",
				zap.Int64("product_id", productID), zap.Error(err))
			continue
		}

		if available != onHand {
			drifts = append(drifts, Drift{ProductID: productID, Ledger: available, Durable: onHand})
			r.logger.Warn("stock drift between ledger and durable inventory",
				zap.Int64("product_id", productID),
				zap.Int("ledger", available),
				zap.Int("durable", onHand))
		}
	}

	return drifts
}
