package worker

import (
	"context"
	"sync"
	"time"

	"github.com/so2vaso3-web/passve-sub001/internal/observability"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
	"go.uber.org/zap"
)

// LedgerAuditor checks wallet totals against the transaction log.
type LedgerAuditor interface {
	Run(ctx context.Context) (*service.ReconciliationReport, error)
}

// ReconciliationWorker audits the ledger on startup and then on a fixed
// interval. It reports drift and never corrects wallets.
type ReconciliationWorker struct {
	auditor  LedgerAuditor
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	last     *service.ReconciliationReport
	mu       sync.Mutex
}

func NewReconciliationWorker(auditor LedgerAuditor) *ReconciliationWorker {
	return &ReconciliationWorker{
		auditor:  auditor,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval overrides the hourly default; non-positive values are ignored.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("ledger audit worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.audit(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			zap.L().Info("ledger audit worker stopped")
			return
		case <-ticker.C:
			w.audit(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// LastReport returns the most recent successful audit, or nil before the
// first one completes.
func (w *ReconciliationWorker) LastReport() *service.ReconciliationReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *ReconciliationWorker) audit(ctx context.Context) {
	// A run must not overlap the next tick.
	runCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	report, err := w.auditor.Run(runCtx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("ledger audit failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.last = report
	w.mu.Unlock()

	if report.Balanced {
		observability.IncrementWorkerRun("reconciliation", "success")
		return
	}
	observability.IncrementWorkerRun("reconciliation", "imbalanced")
	// Each drift was already logged by the service.
	zap.L().Warn("ledger audit found drift",
		zap.Int("wallets_drifted", len(report.Drifts)),
		zap.Int64("system_drift", report.WalletsTotal-report.ExternalTotal),
	)
}
