package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/gateway"
	"github.com/so2vaso3-web/passve-sub001/internal/ledger"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/notify"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"github.com/so2vaso3-web/passve-sub001/internal/repository/memstore"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(events ...notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *recordingNotifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type fixture struct {
	store    *memstore.Store
	clock    *testClock
	notifier *recordingNotifier
	gw       *gateway.MockGateway
	svc      *SettlementService
	wallets  *WalletService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newTestClock()
	store := memstore.New().WithClock(clock.Now)
	notifier := &recordingNotifier{}
	cfg := DefaultSettlementConfig()
	cfg.RetryBackoff = time.Millisecond
	svc := NewSettlementService(store, notifier, cfg).WithClock(clock.Now)

	gw := gateway.NewMockGateway()
	gw.FailureRate = 0
	gw.MaxDelay = 0
	wcfg := DefaultWalletConfig()
	wcfg.RetryBackoff = time.Millisecond
	wallets := NewWalletService(store, gw, notifier, wcfg).WithClock(clock.Now)
	return &fixture{store: store, clock: clock, notifier: notifier, gw: gw, svc: svc, wallets: wallets}
}

// fund credits a user through a completed deposit entry so the wallet stays
// consistent with its history.
func (f *fixture) fund(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	fundWallet(t, f.store, userID, amount)
}

func fundWallet(t *testing.T, store QueryStore, userID uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := ledger.Lock(ctx, q, userID); err != nil {
			return err
		}
		if err := ledger.Credit(ctx, q, userID, amount); err != nil {
			return err
		}
		_, err := ledger.Record(ctx, q, ledger.Entry{
			UserID:      userID,
			Type:        domain.TxTypeDeposit,
			Amount:      amount,
			Status:      domain.TxStatusCompleted,
			Description: "test funding",
		})
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) listTicket(t *testing.T, sellerID uuid.UUID, price int64, code *string) models.Ticket {
	t.Helper()
	ticket, err := f.store.Queries().CreateTicket(context.Background(), repository.CreateTicketParams{
		ID:           uuid.New(),
		SellerID:     sellerID,
		SellingPrice: price,
		Status:       domain.TicketStatusApproved,
		TicketCode:   code,
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) wallet(t *testing.T, userID uuid.UUID) models.Wallet {
	t.Helper()
	w, err := f.store.Queries().GetWallet(context.Background(), userID)
	if errors.Is(err, repository.ErrNoRows) {
		return models.Wallet{UserID: userID}
	}
	require.NoError(t, err)
	return w
}

func (f *fixture) ticket(t *testing.T, id uuid.UUID) models.Ticket {
	t.Helper()
	ticket, err := f.svc.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

// requireConserved checks that every wallet matches its entries and that
// settlement moved no money in or out of the system.
func (f *fixture) requireConserved(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	sums, err := f.store.Queries().SumLedgerByWallet(ctx)
	require.NoError(t, err)
	wallets, err := f.store.Queries().ListWallets(ctx)
	require.NoError(t, err)

	expected := map[uuid.UUID]repository.WalletLedgerSum{}
	for _, s := range sums {
		expected[s.UserID] = s
	}
	var total, external int64
	for _, w := range wallets {
		e := expected[w.UserID]
		require.Equal(t, e.Balance, w.Balance, "balance of %s", w.UserID)
		require.Equal(t, e.Escrow, w.Escrow, "escrow of %s", w.UserID)
		total += w.Balance + w.Escrow
	}
	for _, w := range wallets {
		entries, err := f.store.Queries().ListTransactionsByUser(ctx, repository.ListTransactionsByUserParams{UserID: w.UserID, Limit: 10000})
		require.NoError(t, err)
		for _, e := range entries {
			if e.Type == domain.TxTypeDeposit && e.Status == domain.TxStatusCompleted {
				external += e.Amount
			}
			if e.Type == domain.TxTypeWithdraw && e.Status != domain.TxStatusFailed {
				external += e.Amount
			}
			if e.Type == domain.TxTypeAdjustment {
				external += e.Amount
			}
		}
	}
	require.Equal(t, external, total, "money created or destroyed")
}

func strPtr(s string) *string {
	return &s
}

func buyer(id uuid.UUID) models.Actor {
	return models.Actor{ID: id}
}

func admin() models.Actor {
	return models.Actor{ID: uuid.New(), IsAdmin: true}
}
