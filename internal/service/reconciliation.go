package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/observability"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// WalletDrift is a wallet whose stored totals disagree with its entries.
type WalletDrift struct {
	UserID          uuid.UUID `json:"user_id"`
	Kind            string    `json:"kind"`
	Balance         int64     `json:"balance"`
	ExpectedBalance int64     `json:"expected_balance"`
	Escrow          int64     `json:"escrow"`
	ExpectedEscrow  int64     `json:"expected_escrow"`
}

// ReconciliationReport is the outcome of one run.
type ReconciliationReport struct {
	Balanced      bool          `json:"balanced"`
	WalletsTotal  int64         `json:"wallets_total"`
	ExternalTotal int64         `json:"external_total"`
	Drifts        []WalletDrift `json:"drifts"`
}

// Run checks every wallet against the sum of its counted entries, then
// checks that all wallets together hold exactly what entered the system
// minus what left it.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	queries := s.store.Queries()
	wallets, err := queries.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	sums, err := queries.SumLedgerByWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("run ledger sum query: %w", err)
	}
	external, err := queries.SumExternalFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("run external flow query: %w", err)
	}

	expected := make(map[uuid.UUID]repository.WalletLedgerSum, len(sums))
	for _, row := range sums {
		expected[row.UserID] = row
	}

	report := &ReconciliationReport{ExternalTotal: external, Drifts: []WalletDrift{}}
	for _, w := range wallets {
		report.WalletsTotal += w.Balance + w.Escrow
		want := expected[w.UserID]
		delete(expected, w.UserID)
		if want.Balance == w.Balance && want.Escrow == w.Escrow {
			continue
		}
		report.Drifts = append(report.Drifts, WalletDrift{
			UserID:          w.UserID,
			Kind:            w.Kind,
			Balance:         w.Balance,
			ExpectedBalance: want.Balance,
			Escrow:          w.Escrow,
			ExpectedEscrow:  want.Escrow,
		})
	}
	// entries for a wallet row that does not exist
	for id, want := range expected {
		report.Drifts = append(report.Drifts, WalletDrift{UserID: id, ExpectedBalance: want.Balance, ExpectedEscrow: want.Escrow})
	}

	for _, d := range report.Drifts {
		observability.IncrementLedgerImbalance(scopeOf(d.Kind))
		zap.L().Error("CRITICAL: wallet diverged from its entries",
			zap.String("user_id", d.UserID.String()),
			zap.Int64("balance", d.Balance),
			zap.Int64("expected_balance", d.ExpectedBalance),
			zap.Int64("escrow", d.Escrow),
			zap.Int64("expected_escrow", d.ExpectedEscrow),
		)
	}
	if report.WalletsTotal != report.ExternalTotal {
		observability.IncrementLedgerImbalance("global")
		zap.L().Error("CRITICAL: ledger imbalance detected",
			zap.Int64("wallets_total", report.WalletsTotal),
			zap.Int64("external_total", report.ExternalTotal),
			zap.Int64("net_amount", report.WalletsTotal-report.ExternalTotal),
		)
	}

	report.Balanced = len(report.Drifts) == 0 && report.WalletsTotal == report.ExternalTotal
	if report.Balanced {
		zap.L().Info("ledger balanced", zap.Int("wallets", len(wallets)))
	}
	return report, nil
}

func scopeOf(kind string) string {
	if kind == "" {
		return "orphan"
	}
	return kind
}
