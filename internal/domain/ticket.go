package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	TicketStatusPending   = "pending"
	TicketStatusApproved  = "approved"
	TicketStatusOnHold    = "on_hold"
	TicketStatusSold      = "sold"
	TicketStatusCancelled = "cancelled"
	TicketStatusExpired   = "expired"
	TicketStatusRejected  = "rejected"
)

const (
	EventApprove         = "approve"
	EventReject          = "reject"
	EventExpireListing   = "expire_listing"
	EventBuy             = "buy"
	EventBuyWithCode     = "buy_with_code"
	EventConfirmDelivery = "confirm_delivery"
	EventReleaseHold     = "release_hold"
	EventCancel          = "cancel"
)

var ticketTransitions = map[string]map[string]string{
	TicketStatusPending: {
		EventApprove: TicketStatusApproved,
		EventReject:  TicketStatusRejected,
	},
	TicketStatusApproved: {
		EventBuy:           TicketStatusOnHold,
		EventBuyWithCode:   TicketStatusSold,
		EventExpireListing: TicketStatusExpired,
		EventReject:        TicketStatusRejected,
	},
	TicketStatusOnHold: {
		EventConfirmDelivery: TicketStatusSold,
		EventReleaseHold:     TicketStatusApproved,
	},
	TicketStatusSold: {
		EventCancel: TicketStatusCancelled,
	},
	TicketStatusCancelled: {},
	TicketStatusExpired:   {},
	TicketStatusRejected:  {},
}

// NextTicketStatus returns the status reached by applying event to status.
func NextTicketStatus(status, event string) (string, error) {
	next, ok := ticketTransitions[status][event]
	if !ok {
		return "", &TransitionError{From: status, Event: event}
	}
	return next, nil
}

// IsTerminalTicketStatus reports statuses that accept no settlement event
// except the refund-window cancel on sold. A terminal ticket's code is fixed.
func IsTerminalTicketStatus(status string) bool {
	switch status {
	case TicketStatusSold, TicketStatusCancelled, TicketStatusExpired, TicketStatusRejected:
		return true
	default:
		return false
	}
}

// BuyEvent picks the settlement path: a listing that already carries its code
// is delivered instantly.
func BuyEvent(hasCode bool) string {
	if hasCode {
		return EventBuyWithCode
	}
	return EventBuy
}

// ValidateBuy checks the buy guards in the order a buyer should hear about them.
func ValidateBuy(status string, sellerID, buyerID uuid.UUID, expireAt *time.Time, now time.Time) error {
	if sellerID == buyerID {
		return ErrSelfPurchase
	}
	if status != TicketStatusApproved {
		return ErrTicketNotAvailable
	}
	if expireAt != nil && !now.Before(*expireAt) {
		return ErrTicketExpired
	}
	return nil
}

// CanCancelSale reports whether a sold ticket may still be refunded.
func CanCancelSale(soldAt *time.Time, now time.Time, window time.Duration, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	if soldAt == nil {
		return false
	}
	return now.Sub(*soldAt) <= window
}

// HoldExpired reports whether an on_hold reservation outlived window.
func HoldExpired(onHoldAt *time.Time, now time.Time, window time.Duration) bool {
	if onHoldAt == nil {
		return false
	}
	return now.Sub(*onHoldAt) >= window
}
