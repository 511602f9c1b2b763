package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/notify"
	"github.com/so2vaso3-web/passve-sub001/internal/observability"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"go.uber.org/zap"
)

// Notifier receives events after their unit of work committed.
type Notifier interface {
	Publish(events ...notify.Event)
}

var errSkip = errors.New("nothing to do")

// unitRunner executes one unit of work per call and retries the whole unit
// when a concurrent writer won.
type unitRunner struct {
	store      QueryStore
	notifier   Notifier
	maxRetries uint64
	backoff    time.Duration
}

// run calls fn inside a transaction. fn must reset any captured output on
// every attempt. Events are published only after commit.
func (u unitRunner) run(ctx context.Context, operation string, fn func(q repository.Querier) ([]notify.Event, error)) error {
	backoff := retry.WithMaxRetries(u.maxRetries, retry.NewConstant(u.backoff))
	var events []notify.Event
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			observability.IncrementConcurrencyRetry(operation)
		}
		err := u.store.RunInTx(ctx, func(q repository.Querier) error {
			var err error
			events, err = fn(q)
			return err
		})
		if errors.Is(err, domain.ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		return err
	})
	switch {
	case err == nil:
		observability.IncrementSettlement(operation, "committed")
	case errors.Is(err, errSkip):
	case isUserError(err):
		observability.IncrementSettlement(operation, "rejected")
	default:
		observability.IncrementSettlement(operation, "failed")
		zap.L().Error("unit of work failed", zap.String("operation", operation), zap.Int("attempts", attempt), zap.Error(err))
	}
	if err != nil {
		return err
	}
	if u.notifier != nil && len(events) > 0 {
		u.notifier.Publish(events...)
	}
	return nil
}

func isUserError(err error) bool {
	for _, target := range []error{
		domain.ErrInsufficientFunds, domain.ErrTicketNotAvailable, domain.ErrSelfPurchase,
		domain.ErrTicketExpired, domain.ErrInvalidTransition, domain.ErrTicketNotFound,
		domain.ErrForbidden, domain.ErrValidation, domain.ErrInvalidAmount, domain.ErrNotFound,
		ErrDepositPayloadMismatch, ErrTransactionNotFound, ErrInvalidSignature, ErrCodeNotDelivered,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
