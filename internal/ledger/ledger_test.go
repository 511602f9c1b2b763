package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/ledger"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"github.com/so2vaso3-web/passve-sub001/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockCreatesWalletsLazily(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		wallets, err := ledger.Lock(ctx, q, a, b, a)
		require.NoError(t, err)
		assert.Len(t, wallets, 2)
		assert.Equal(t, int64(0), wallets[a].Balance)
		return nil
	})
	require.NoError(t, err)

	w, err := store.Queries().GetWallet(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletKindUser, w.Kind)
}

func TestDebitInsufficientFunds(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := ledger.Lock(ctx, q, user); err != nil {
			return err
		}
		if err := ledger.Credit(ctx, q, user, 500); err != nil {
			return err
		}
		return ledger.Debit(ctx, q, user, 800)
	})
	require.Error(t, err)
	var ife *domain.InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, int64(300), ife.Shortfall())

	// the failed unit applied nothing, including the credit before the debit
	_, err = store.Queries().GetWallet(ctx, user)
	assert.True(t, errors.Is(err, repository.ErrNoRows))
}

func TestEscrowMoves(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := ledger.Lock(ctx, q, user); err != nil {
			return err
		}
		if err := ledger.Credit(ctx, q, user, 1_000); err != nil {
			return err
		}
		if err := ledger.MoveToEscrow(ctx, q, user, 600); err != nil {
			return err
		}
		return ledger.ReleaseFromEscrow(ctx, q, user, 100)
	})
	require.NoError(t, err)

	w, err := store.Queries().GetWallet(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(500), w.Balance)
	assert.Equal(t, int64(500), w.Escrow)

	err = store.RunInTx(ctx, func(q repository.Querier) error {
		return ledger.DebitEscrow(ctx, q, user, 501)
	})
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		return ledger.Credit(ctx, q, user, 0)
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))

	err = store.RunInTx(ctx, func(q repository.Querier) error {
		return ledger.Debit(ctx, q, user, -5)
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))
}

func TestClampedReversal(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()

	var taken, earned int64
	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := ledger.Lock(ctx, q, user); err != nil {
			return err
		}
		if err := ledger.Credit(ctx, q, user, 40_000); err != nil {
			return err
		}
		if err := ledger.AddEarned(ctx, q, user, 93_000); err != nil {
			return err
		}
		var err error
		if taken, err = ledger.DebitClamped(ctx, q, user, 93_000); err != nil {
			return err
		}
		earned, err = ledger.SubEarnedClamped(ctx, q, user, 100_000)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), taken)
	assert.Equal(t, int64(93_000), earned)

	w, err := store.Queries().GetWallet(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
	assert.Equal(t, int64(0), w.TotalEarned)
}

func TestPlatformBalanceIsItsEntries(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		_, err := ledger.Record(ctx, q,
			ledger.Entry{UserID: ledger.PlatformID, Type: domain.TxTypePlatformFee, Amount: 5_000, Status: domain.TxStatusCompleted},
			ledger.Entry{UserID: ledger.PlatformID, Type: domain.TxTypePlatformFee, Amount: -7_000, Status: domain.TxStatusCompleted},
		)
		return err
	})
	require.NoError(t, err)

	w, err := store.Queries().GetWallet(ctx, ledger.PlatformID)
	require.NoError(t, err)
	assert.Equal(t, int64(-2_000), w.Balance)
}

func TestNet(t *testing.T) {
	assert.Zero(t, ledger.Net(nil))
	assert.Equal(t, int64(-7_000), ledger.Net([]ledger.Entry{{Amount: -107_000}, {Amount: 100_000}}))
}

func TestRecordAndRead(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()
	ticketID := uuid.New()

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := ledger.Lock(ctx, q, user); err != nil {
			return err
		}
		_, err := ledger.Record(ctx, q,
			ledger.Entry{UserID: user, Type: domain.TxTypeDeposit, Amount: 10_000, Status: domain.TxStatusCompleted},
			ledger.Entry{UserID: user, Type: domain.TxTypePurchase, Amount: -5_000, Status: domain.TxStatusPending, TicketID: &ticketID},
		)
		return err
	})
	require.NoError(t, err)

	reader := ledger.NewReader(store.Queries())
	items, err := reader.ListByUser(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.TxTypePurchase, items[0].Type, "newest first")
	assert.Equal(t, domain.TxStatusCompleted, items[0].Status, "settlement entries are always completed")

	byTicket, err := reader.FindByTicket(ctx, ticketID)
	require.NoError(t, err)
	require.Len(t, byTicket, 1)
	assert.Equal(t, int64(-5_000), byTicket[0].Amount)
}

func TestRecordRejectsEmptyAndZero(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		_, err := ledger.Record(ctx, q)
		return err
	})
	assert.Error(t, err)

	err = store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := ledger.Lock(ctx, q, user); err != nil {
			return err
		}
		_, err := ledger.Record(ctx, q, ledger.Entry{UserID: user, Type: domain.TxTypeSale, Amount: 0})
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))
}
