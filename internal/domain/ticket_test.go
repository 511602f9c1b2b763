package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTicketStatus(t *testing.T) {
	cases := []struct {
		from, event, to string
	}{
		{TicketStatusPending, EventApprove, TicketStatusApproved},
		{TicketStatusPending, EventReject, TicketStatusRejected},
		{TicketStatusApproved, EventBuy, TicketStatusOnHold},
		{TicketStatusApproved, EventBuyWithCode, TicketStatusSold},
		{TicketStatusApproved, EventExpireListing, TicketStatusExpired},
		{TicketStatusOnHold, EventConfirmDelivery, TicketStatusSold},
		{TicketStatusOnHold, EventReleaseHold, TicketStatusApproved},
		{TicketStatusSold, EventCancel, TicketStatusCancelled},
	}
	for _, tc := range cases {
		got, err := NextTicketStatus(tc.from, tc.event)
		require.NoError(t, err, "%s on %s", tc.event, tc.from)
		assert.Equal(t, tc.to, got)
	}
}

func TestNextTicketStatus_Rejects(t *testing.T) {
	cases := []struct{ from, event string }{
		{TicketStatusPending, EventBuy},
		{TicketStatusOnHold, EventBuy},
		{TicketStatusSold, EventBuy},
		{TicketStatusSold, EventConfirmDelivery},
		{TicketStatusCancelled, EventCancel},
		{TicketStatusExpired, EventApprove},
		{TicketStatusRejected, EventBuy},
		{"unknown", EventBuy},
	}
	for _, tc := range cases {
		_, err := NextTicketStatus(tc.from, tc.event)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	}
}

func TestValidateBuy(t *testing.T) {
	seller, buyer := uuid.New(), uuid.New()
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	assert.NoError(t, ValidateBuy(TicketStatusApproved, seller, buyer, &future, now))
	assert.NoError(t, ValidateBuy(TicketStatusApproved, seller, buyer, nil, now))
	assert.ErrorIs(t, ValidateBuy(TicketStatusApproved, seller, seller, nil, now), ErrSelfPurchase)
	assert.ErrorIs(t, ValidateBuy(TicketStatusOnHold, seller, buyer, nil, now), ErrTicketNotAvailable)
	assert.ErrorIs(t, ValidateBuy(TicketStatusApproved, seller, buyer, &past, now), ErrTicketExpired)
}

func TestCanCancelSale(t *testing.T) {
	now := time.Now()
	recent := now.Add(-23 * time.Hour)
	old := now.Add(-25 * time.Hour)

	assert.True(t, CanCancelSale(&recent, now, DefaultRefundWindow, false))
	assert.False(t, CanCancelSale(&old, now, DefaultRefundWindow, false))
	assert.True(t, CanCancelSale(&old, now, DefaultRefundWindow, true))
	assert.False(t, CanCancelSale(nil, now, DefaultRefundWindow, false))
}

func TestHoldExpired(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-time.Minute)
	stale := now.Add(-16 * time.Minute)

	assert.False(t, HoldExpired(&fresh, now, DefaultHoldWindow))
	assert.True(t, HoldExpired(&stale, now, DefaultHoldWindow))
	assert.False(t, HoldExpired(nil, now, DefaultHoldWindow))
}

func TestIsTerminalTicketStatus(t *testing.T) {
	for _, s := range []string{TicketStatusSold, TicketStatusCancelled, TicketStatusExpired, TicketStatusRejected} {
		assert.True(t, IsTerminalTicketStatus(s), s)
	}
	for _, s := range []string{TicketStatusPending, TicketStatusApproved, TicketStatusOnHold} {
		assert.False(t, IsTerminalTicketStatus(s), s)
	}
}
