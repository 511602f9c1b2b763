package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/gateway"
	"github.com/so2vaso3-web/passve-sub001/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeposit_PendingUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.wallets.Deposit(ctx, buyer(user), 200000)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, res.Status)
	assert.NotEmpty(t, res.Reference)
	assert.Contains(t, res.CheckoutURL, res.Reference)
	assert.Equal(t, int64(0), f.wallet(t, user).Balance)
	f.requireConserved(t)

	out, err := f.wallets.ResolveDeposit(ctx, admin(), res.Reference, 200000, true, "test")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, domain.TxStatusCompleted, out.Status)
	assert.Equal(t, int64(200000), f.wallet(t, user).Balance)
	assert.Contains(t, f.notifier.Kinds(), notify.KindDepositCompleted)
	f.requireConserved(t)
}

func TestDeposit_SynchronousGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.gw.Synchronous = true

	res, err := f.wallets.Deposit(ctx, buyer(user), 150000)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, res.Status)
	assert.Empty(t, res.CheckoutURL)
	assert.Equal(t, int64(150000), f.wallet(t, user).Balance)
	f.requireConserved(t)
}

func TestDeposit_Limits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wallets.Deposit(ctx, buyer(uuid.New()), 0)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.wallets.Deposit(ctx, buyer(uuid.New()), DefaultWalletConfig().MaxDeposit+1)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdraw_ReservesAndResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, 300000)

	_, err := f.wallets.Withdraw(ctx, buyer(user), 100000, "bad ref!")
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.wallets.Withdraw(ctx, buyer(user), 400000, "VCB0123456789")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	first, err := f.wallets.Withdraw(ctx, buyer(user), 100000, "VCB0123456789")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, first.Status)
	assert.Equal(t, int64(200000), f.wallet(t, user).Balance)
	f.requireConserved(t)

	second, err := f.wallets.Withdraw(ctx, buyer(user), 50000, "VCB0123456789")
	require.NoError(t, err)

	_, err = f.wallets.ApproveWithdrawal(ctx, buyer(user), first.TransactionID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	approved, err := f.wallets.ApproveWithdrawal(ctx, admin(), first.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, approved.Status)
	assert.Equal(t, int64(150000), f.wallet(t, user).Balance)

	rejected, err := f.wallets.RejectWithdrawal(ctx, admin(), second.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, rejected.Status)
	assert.Equal(t, int64(200000), f.wallet(t, user).Balance)

	_, err = f.wallets.RejectWithdrawal(ctx, admin(), first.TransactionID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.wallets.ApproveWithdrawal(ctx, admin(), uuid.New())
	require.ErrorIs(t, err, ErrTransactionNotFound)
	f.requireConserved(t)
}

func TestAdminAdjustBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.wallets.AdminAdjustBalance(ctx, buyer(uuid.New()), user, 1000, domain.AdjustCredit, "")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.wallets.AdminAdjustBalance(ctx, admin(), user, 1000, "sideways", "")
	require.ErrorIs(t, err, domain.ErrValidation)

	w, err := f.wallets.AdminAdjustBalance(ctx, admin(), user, 50000, domain.AdjustCredit, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), w.Balance)

	_, err = f.wallets.AdminAdjustBalance(ctx, admin(), user, 60000, domain.AdjustDebit, "chargeback")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	w, err = f.wallets.AdminAdjustBalance(ctx, admin(), user, 20000, domain.AdjustDebit, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), w.Balance)

	entries, err := f.wallets.ListTransactions(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-20000), entries[0].Amount)
	assert.Equal(t, domain.TxTypeAdjustment, entries[0].Type)
	f.requireConserved(t)
}

func TestConfirmPendingDeposits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userA, userB, userC := uuid.New(), uuid.New(), uuid.New()

	a, err := f.wallets.Deposit(ctx, buyer(userA), 100000)
	require.NoError(t, err)
	b, err := f.wallets.Deposit(ctx, buyer(userB), 100000)
	require.NoError(t, err)
	c, err := f.wallets.Deposit(ctx, buyer(userC), 100000)
	require.NoError(t, err)
	f.gw.SetStatus(a.Reference, gateway.StatusSucceeded)
	f.gw.SetStatus(b.Reference, gateway.StatusFailed)
	f.gw.SetStatus(c.Reference, gateway.StatusPending)
	f.gw.FailureRate = 0

	report, err := f.wallets.ConfirmPendingDeposits(ctx, admin(), 10*time.Minute, 50)
	require.NoError(t, err)
	assert.Empty(t, report.Items, "deposits younger than the cutoff are left alone")

	f.clock.Advance(11 * time.Minute)
	report, err = f.wallets.ConfirmPendingDeposits(ctx, admin(), 10*time.Minute, 50)
	require.NoError(t, err)
	// the mock settles a pending reference on first poll
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, int64(100000), f.wallet(t, userA).Balance)
	assert.Equal(t, int64(0), f.wallet(t, userB).Balance)
	assert.Equal(t, int64(100000), f.wallet(t, userC).Balance)

	report, err = f.wallets.ConfirmPendingDeposits(ctx, admin(), 10*time.Minute, 50)
	require.NoError(t, err)
	assert.Empty(t, report.Items)
	f.requireConserved(t)
}

func TestTicketTransactions_VisibleToParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller, buyerID := uuid.New(), uuid.New()
	f.fund(t, buyerID, 107000)
	ticket := f.listTicket(t, seller, price, nil)
	_, err := f.svc.Buy(ctx, buyer(buyerID), ticket.ID)
	require.NoError(t, err)

	_, err = f.wallets.TicketTransactions(ctx, buyer(uuid.New()), ticket.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	own, err := f.wallets.TicketTransactions(ctx, buyer(buyerID), ticket.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, domain.TxTypePurchase, own[0].Type)

	all, err := f.wallets.TicketTransactions(ctx, admin(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
