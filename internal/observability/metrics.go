package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	ledgerImbalanceCounter *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	settlementCounter      *prometheus.CounterVec
	concurrencyRetry       *prometheus.CounterVec
	notificationCounter    *prometheus.CounterVec
	pendingDepositsGauge   prometheus.Gauge
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of times wallet totals diverged from their transaction entries",
		}, []string{"scope"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_operations_total",
			Help: "Settlement orchestrator outcomes by operation",
		}, []string{"operation", "result"})

		concurrencyRetry = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_concurrency_retries_total",
			Help: "Units of work retried after a concurrent modification",
		}, []string{"operation"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Post-commit notification outcomes by sink",
		}, []string{"sink", "result"})

		pendingDepositsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_pending_deposits",
			Help: "Pending deposits seen by the last reconciliation sweep",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			settlementCounter,
			concurrencyRetry,
			notificationCounter,
			pendingDepositsGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(scope string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(scope).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementSettlement(operation, result string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(operation, result).Inc()
}

func IncrementConcurrencyRetry(operation string) {
	if concurrencyRetry == nil {
		return
	}
	concurrencyRetry.WithLabelValues(operation).Inc()
}

func IncrementNotification(sink, result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(sink, result).Inc()
}

func SetPendingDeposits(count int) {
	if pendingDepositsGauge == nil {
		return
	}
	pendingDepositsGauge.Set(float64(count))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
