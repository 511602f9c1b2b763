package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrTicketNotAvailable     = errors.New("ticket is not available")
	ErrSelfPurchase           = errors.New("cannot buy your own ticket")
	ErrTicketExpired          = errors.New("ticket listing has expired")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrValidation             = errors.New("validation failed")
	ErrForbidden              = errors.New("actor is not allowed to perform this operation")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotFound               = errors.New("not found")
)

// InsufficientFundsError reports how much the wallet is short by.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d more (required %d, available %d)", e.Shortfall(), e.Required, e.Available)
}

// Shortfall is the top-up needed to cover Required.
func (e *InsufficientFundsError) Shortfall() int64 {
	if e.Available >= e.Required {
		return 0
	}
	return e.Required - e.Available
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// TransitionError names the rejected state change.
type TransitionError struct {
	From  string
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Validationf wraps ErrValidation with a caller-facing reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
