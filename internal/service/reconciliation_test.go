package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestReconciliationRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewReconciliationService(f.store)

	seller, buyerID := uuid.New(), uuid.New()
	f.fund(t, buyerID, 300000)
	ticket := f.listTicket(t, seller, price, nil)
	_, err := f.svc.Buy(ctx, buyer(buyerID), ticket.ID)
	require.NoError(t, err)
	_, err = f.wallets.Withdraw(ctx, buyer(buyerID), 50000, "ACB998877")
	require.NoError(t, err)

	report, err := svc.Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Balanced)
	require.Empty(t, report.Drifts)
	require.Equal(t, int64(250000), report.WalletsTotal)
	require.Equal(t, report.ExternalTotal, report.WalletsTotal)

	// a write that bypasses the ledger
	err = f.store.RunInTx(ctx, func(q repository.Querier) error {
		_, err := q.AddWalletBalance(ctx, repository.AddWalletBalanceParams{UserID: seller, Delta: 500})
		return err
	})
	require.NoError(t, err)

	report, err = svc.Run(ctx)
	require.NoError(t, err)
	require.False(t, report.Balanced)
	require.Len(t, report.Drifts, 1)
	require.Equal(t, seller, report.Drifts[0].UserID)
	require.Equal(t, int64(500), report.Drifts[0].Balance-report.Drifts[0].ExpectedBalance)
	require.Equal(t, int64(500), report.WalletsTotal-report.ExternalTotal)
}
