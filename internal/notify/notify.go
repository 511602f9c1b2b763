// Package notify fans post-commit settlement events out to the collaborators
// that care about them. Delivery is fire-and-forget: failures are logged and
// counted, never returned to the settlement that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/observability"
	"go.uber.org/zap"
)

const (
	KindTicketHeld        = "ticket.held"
	KindTicketSold        = "ticket.sold"
	KindTicketReleased    = "ticket.released"
	KindTicketCancelled   = "ticket.cancelled"
	KindTicketModerated   = "ticket.moderated"
	KindTicketExpired     = "ticket.expired"
	KindTicketCodeReady   = "ticket.code_delivered"
	KindDepositCompleted  = "wallet.deposit_completed"
	KindDepositFailed     = "wallet.deposit_failed"
	KindWithdrawRequested = "wallet.withdraw_requested"
	KindWithdrawResolved  = "wallet.withdraw_resolved"
	KindBalanceAdjusted   = "wallet.balance_adjusted"
)

// Event describes something that already committed.
type Event struct {
	Kind       string      `json:"kind"`
	TicketID   *uuid.UUID  `json:"ticket_id,omitempty"`
	SellerID   *uuid.UUID  `json:"seller_id,omitempty"`
	BuyerID    *uuid.UUID  `json:"buyer_id,omitempty"`
	UserIDs    []uuid.UUID `json:"user_ids"`
	Amount     int64       `json:"amount,omitempty"`
	Message    string      `json:"message"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Sink is one downstream collaborator.
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Dispatcher delivers events to every sink concurrently. The zero value and
// a nil *Dispatcher drop events.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

// Publish returns immediately; each sink gets its own bounded context that is
// detached from the request.
func (d *Dispatcher) Publish(events ...Event) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	for _, event := range events {
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		for _, sink := range d.sinks {
			d.wg.Add(1)
			go d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event Event) {
	defer d.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			observability.IncrementNotification(sink.Name(), "panic")
			zap.L().Error("notification sink panicked", zap.String("sink", sink.Name()), zap.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := sink.Send(ctx, event); err != nil {
		observability.IncrementNotification(sink.Name(), "failed")
		zap.L().Warn("notification delivery failed",
			zap.String("sink", sink.Name()),
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
		return
	}
	observability.IncrementNotification(sink.Name(), "delivered")
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
