package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/observability"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
	"go.uber.org/zap"
)

// SweepFunc runs one pass of a batch job.
type SweepFunc func(ctx context.Context) (*service.BatchResult, error)

// SweepWorker runs a sweep at a fixed interval. Every item of a sweep is its
// own unit of work, so concurrent instances only race on row locks.
type SweepWorker struct {
	name     string
	sweep    SweepFunc
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweepWorker creates a worker that runs sweep every interval.
func NewSweepWorker(name string, interval time.Duration, sweep SweepFunc) *SweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepWorker{
		name:     name,
		sweep:    sweep,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// NewHoldExpiryWorker releases holds nobody confirmed in time.
func NewHoldExpiryWorker(svc *service.SettlementService, interval time.Duration) *SweepWorker {
	return NewSweepWorker("hold_expiry", interval, svc.ReleaseExpiredHolds)
}

// NewDeliveredSettlementWorker pays sellers whose held tickets already carry a code.
func NewDeliveredSettlementWorker(svc *service.SettlementService, interval time.Duration) *SweepWorker {
	return NewSweepWorker("delivered_settlement", interval, svc.SettleDeliveredHolds)
}

// NewListingExpiryWorker closes listings past their expiry date.
func NewListingExpiryWorker(svc *service.SettlementService, interval time.Duration) *SweepWorker {
	return NewSweepWorker("listing_expiry", interval, svc.ExpireListings)
}

// NewDepositReconciliationWorker polls the gateway for deposits pending
// longer than olderThan.
func NewDepositReconciliationWorker(svc *service.WalletService, interval, olderThan time.Duration, batchSize int32) *SweepWorker {
	return NewSweepWorker("deposit_reconciliation", interval, func(ctx context.Context) (*service.BatchResult, error) {
		return svc.ConfirmPendingDeposits(ctx, models.SystemActor(), olderThan, batchSize)
	})
}

// Start begins the background worker.
// It runs in a loop until Stop is called or the context is canceled.
func (w *SweepWorker) Start(ctx context.Context) {
	zap.L().Info("sweep worker starting", zap.String("worker", w.name), zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker context canceled", zap.String("worker", w.name))
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stop signal received", zap.String("worker", w.name))
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *SweepWorker) processBatch(ctx context.Context) {
	report, err := w.ProcessOnce(ctx)
	if err != nil {
		zap.L().Error("sweep failed", zap.String("worker", w.name), zap.Error(err))
		return
	}
	if report.Processed > 0 || report.Failed > 0 {
		zap.L().Info("sweep finished",
			zap.String("worker", w.name),
			zap.Int("processed", report.Processed),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
}

// ProcessOnce runs a single sweep immediately.
// Useful for testing or manual triggering.
func (w *SweepWorker) ProcessOnce(ctx context.Context) (*service.BatchResult, error) {
	report, err := w.sweep(ctx)
	switch {
	case err != nil:
		observability.IncrementWorkerRun(w.name, "failed")
	case report.Failed > 0:
		observability.IncrementWorkerRun(w.name, "partial")
	default:
		observability.IncrementWorkerRun(w.name, "success")
	}
	return report, err
}

// Run starts the worker and returns a function that can be called to stop it.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// String returns a string representation of the worker.
func (w *SweepWorker) String() string {
	return fmt.Sprintf("SweepWorker(%s, interval=%v)", w.name, w.interval)
}
