package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"github.com/so2vaso3-web/passve-sub001/internal/repository/memstore"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepWorkerRunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	w := NewSweepWorker("test", 5*time.Millisecond, func(context.Context) (*service.BatchResult, error) {
		runs.Add(1)
		return &service.BatchResult{}, nil
	})

	stop := w.Run(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	stop()
	stop()

	seen := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), seen+1)
}

func TestSweepWorkerProcessOnceReturnsError(t *testing.T) {
	boom := errors.New("boom")
	w := NewSweepWorker("failing", time.Minute, func(context.Context) (*service.BatchResult, error) {
		return nil, boom
	})
	_, err := w.ProcessOnce(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestListingExpiryWorker(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := service.NewSettlementService(store, nil, service.DefaultSettlementConfig())

	past := time.Now().UTC().Add(-time.Minute)
	ticket, err := store.Queries().CreateTicket(ctx, repository.CreateTicketParams{
		ID: uuid.New(), SellerID: uuid.New(), SellingPrice: 50000, Status: domain.TicketStatusApproved, ExpireAt: &past,
	})
	require.NoError(t, err)

	report, err := NewListingExpiryWorker(svc, time.Minute).ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	stored, err := svc.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusExpired, stored.Status)
}
