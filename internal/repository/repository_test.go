package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/so2vaso3-web/passve-sub001/internal/db"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"github.com/so2vaso3-web/passve-sub001/internal/repository/memstore"
	"github.com/so2vaso3-web/passve-sub001/internal/testutil/dblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env")
}

type contractStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// stores returns the memory store always and the Postgres store when
// DATABASE_URL is set.
func stores(t *testing.T) map[string]contractStore {
	t.Helper()
	out := map[string]contractStore{"memory": memstore.New()}

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Log("DATABASE_URL not set; running against the memory store only")
		return out
	}
	dblock.Acquire(t)

	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	out["postgres"] = repository.NewStore(pool)
	return out
}

func ptr[T any](v T) *T { return &v }

func TestWalletBalanceGuard(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := st.Queries()
			userID := uuid.New()

			require.NoError(t, q.EnsureWallet(ctx, userID))
			require.NoError(t, q.EnsureWallet(ctx, userID), "ensure is idempotent")

			rows, err := q.AddWalletBalance(ctx, repository.AddWalletBalanceParams{UserID: userID, Delta: 50_000})
			require.NoError(t, err)
			assert.EqualValues(t, 1, rows)

			rows, err = q.AddWalletBalance(ctx, repository.AddWalletBalanceParams{UserID: userID, Delta: -50_001})
			require.NoError(t, err)
			assert.EqualValues(t, 0, rows, "overdraft must match no row")

			rows, err = q.AddWalletEscrow(ctx, repository.AddWalletEscrowParams{UserID: userID, Delta: -1})
			require.NoError(t, err)
			assert.EqualValues(t, 0, rows)

			w, err := q.GetWallet(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, int64(50_000), w.Balance)
			assert.Zero(t, w.Escrow)
			assert.Equal(t, domain.WalletKindUser, w.Kind)

			_, err = q.GetWallet(ctx, uuid.New())
			assert.True(t, errors.Is(err, repository.ErrNoRows))
		})
	}
}

func TestUpdateTicketExpectsStatus(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := st.Queries()
			sellerID := uuid.New()
			require.NoError(t, q.EnsureWallet(ctx, sellerID))

			ticket, err := q.CreateTicket(ctx, repository.CreateTicketParams{
				ID:           uuid.New(),
				SellerID:     sellerID,
				SellingPrice: 100_000,
				Status:       domain.TicketStatusApproved,
				ExpireAt:     ptr(time.Now().Add(time.Hour)),
			})
			require.NoError(t, err)

			stale := repository.TicketUpdate(ticket, domain.TicketStatusSold)
			stale.ExpectStatus = domain.TicketStatusPending
			rows, err := q.UpdateTicket(ctx, stale)
			require.NoError(t, err)
			assert.EqualValues(t, 0, rows)

			hold := repository.TicketUpdate(ticket, domain.TicketStatusOnHold)
			hold.BuyerID = ptr(uuid.New())
			hold.OnHoldAt = ptr(time.Now())
			hold.TicketCode = ptr("GATE-42")
			rows, err = q.UpdateTicket(ctx, hold)
			require.NoError(t, err)
			assert.EqualValues(t, 1, rows)

			got, err := q.GetTicket(ctx, ticket.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TicketStatusOnHold, got.Status)
			assert.True(t, got.HasCode())

			delivered, err := q.ListDeliveredHolds(ctx, 1000)
			require.NoError(t, err)
			assert.Contains(t, delivered, ticket.ID)

			old, err := q.ListHoldsOlderThan(ctx, repository.ListHoldsOlderThanParams{Before: time.Now().Add(time.Minute), Limit: 1000})
			require.NoError(t, err)
			assert.Contains(t, old, ticket.ID)
		})
	}
}

func TestTransactionsByReference(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := st.Queries()
			userID := uuid.New()
			require.NoError(t, q.EnsureWallet(ctx, userID))

			flowsBefore, err := q.SumExternalFlows(ctx)
			require.NoError(t, err)

			ref := "dep-" + uuid.NewString()
			deposit, err := q.CreateTransaction(ctx, repository.CreateTransactionParams{
				ID:          uuid.New(),
				UserID:      userID,
				Type:        domain.TxTypeDeposit,
				Amount:      80_000,
				Status:      domain.TxStatusPending,
				Description: "gateway deposit",
				Reference:   &ref,
			})
			require.NoError(t, err)

			_, err = q.CreateTransaction(ctx, repository.CreateTransactionParams{
				ID:          uuid.New(),
				UserID:      userID,
				Type:        domain.TxTypeDeposit,
				Amount:      1,
				Status:      domain.TxStatusPending,
				Description: "duplicate reference",
				Reference:   &ref,
			})
			require.Error(t, err, "references are unique")

			err = st.RunInTx(ctx, func(q repository.Querier) error {
				row, err := q.GetTransactionByReferenceForUpdate(ctx, ref)
				if err != nil {
					return err
				}
				if _, err := q.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{Status: domain.TxStatusCompleted, ID: row.ID}); err != nil {
					return err
				}
				_, err = q.AddWalletBalance(ctx, repository.AddWalletBalanceParams{UserID: userID, Delta: row.Amount})
				return err
			})
			require.NoError(t, err)

			got, err := q.GetTransaction(ctx, deposit.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TxStatusCompleted, got.Status)

			sums, err := q.SumLedgerByWallet(ctx)
			require.NoError(t, err)
			var found bool
			for _, s := range sums {
				if s.UserID == userID {
					found = true
					assert.Equal(t, int64(80_000), s.Balance)
					assert.Zero(t, s.Escrow)
				}
			}
			assert.True(t, found)

			flowsAfter, err := q.SumExternalFlows(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(80_000), flowsAfter-flowsBefore)

			history, err := q.ListTransactionsByUser(ctx, repository.ListTransactionsByUserParams{UserID: userID, Limit: 10})
			require.NoError(t, err)
			assert.Len(t, history, 1)
		})
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			userID := uuid.New()
			require.NoError(t, st.Queries().EnsureWallet(ctx, userID))

			boom := errors.New("boom")
			err := st.RunInTx(ctx, func(q repository.Querier) error {
				if _, err := q.AddWalletBalance(ctx, repository.AddWalletBalanceParams{UserID: userID, Delta: 10_000}); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			w, err := st.Queries().GetWallet(ctx, userID)
			require.NoError(t, err)
			assert.Zero(t, w.Balance)
		})
	}
}

func TestIdempotencyKeyReservation(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := st.Queries()
			key := "user:" + uuid.NewString()
			params := repository.ReserveIdempotencyKeyParams{
				IdempotencyKey: key,
				RequestHash:    "hash-a",
				Method:         "POST",
				Path:           "/v1/tickets/x/buy",
			}

			row, err := q.ReserveIdempotencyKey(ctx, params)
			require.NoError(t, err)
			assert.True(t, row.InProgress)

			_, err = q.ReserveIdempotencyKey(ctx, params)
			assert.ErrorIs(t, err, repository.ErrNoRows, "second reservation loses")

			_, err = q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
				ResponseStatus: 200,
				ResponseBody:   []byte(`{}`),
				ContentType:    "application/json",
				IdempotencyKey: key,
				RequestHash:    "hash-b",
			})
			assert.ErrorIs(t, err, repository.ErrNoRows, "hash mismatch finalizes nothing")

			done, err := q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
				ResponseStatus: 200,
				ResponseBody:   []byte(`{"ok":true}`),
				ContentType:    "application/json",
				IdempotencyKey: key,
				RequestHash:    "hash-a",
			})
			require.NoError(t, err)
			assert.False(t, done.InProgress)
			assert.EqualValues(t, 200, done.ResponseStatus)

			stored, err := q.GetIdempotencyKey(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, `{"ok":true}`, string(stored.ResponseBody))
		})
	}
}
