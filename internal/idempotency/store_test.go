package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/so2vaso3-web/passve-sub001/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, memstore.New(), time.Hour).WithMaxWait(50 * time.Millisecond)

	_, err := store.Lookup(ctx, "k1", "hash-a")
	require.ErrorIs(t, err, ErrNotFound)

	reserved, err := store.Reserve(ctx, "k1", "hash-a", "POST", "/v1/wallet/deposits")
	require.NoError(t, err)
	require.True(t, reserved)

	reserved, err = store.Reserve(ctx, "k1", "hash-a", "POST", "/v1/wallet/deposits")
	require.NoError(t, err)
	assert.False(t, reserved)

	_, err = store.Lookup(ctx, "k1", "hash-a")
	require.ErrorIs(t, err, ErrInProgress)
	_, err = store.WaitForCompletion(ctx, "k1", "hash-a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = store.Finalize(ctx, "k1", "hash-a", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))
	assert.Equal(t, "database", rec.ServedBy)

	_, err = store.Lookup(ctx, "k1", "hash-b")
	require.ErrorIs(t, err, ErrHashMismatch)

	_, err = store.Finalize(ctx, "missing", "hash-a", 200, nil, "application/json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseOnlyDropsUnfinishedReservations(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, memstore.New(), time.Hour)

	reserved, err := store.Reserve(ctx, "k2", "hash-a", "POST", "/v1/tickets/t/buy")
	require.NoError(t, err)
	require.True(t, reserved)

	require.ErrorIs(t, store.Release(ctx, "k2", "hash-b"), ErrNotFound)
	require.NoError(t, store.Release(ctx, "k2", "hash-a"))

	reserved, err = store.Reserve(ctx, "k2", "hash-a", "POST", "/v1/tickets/t/buy")
	require.NoError(t, err)
	assert.True(t, reserved, "released key can be reserved again")

	_, err = store.Finalize(ctx, "k2", "hash-a", 200, []byte(`{}`), "application/json")
	require.NoError(t, err)
	require.ErrorIs(t, store.Release(ctx, "k2", "hash-a"), ErrNotFound)
}
