package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
)

// Entry is one transaction row to append. Amount is the signed delta the
// caller already applied to the wallet. Fee account entries are the balance
// themselves.
type Entry struct {
	UserID      uuid.UUID
	Type        string
	Amount      int64
	Status      string
	Description string
	TicketID    *uuid.UUID
	Reference   *string
	Metadata    []byte
}

var settlementTypes = map[string]struct{}{
	domain.TxTypePurchase:      {},
	domain.TxTypeSale:          {},
	domain.TxTypeEscrowHold:    {},
	domain.TxTypeEscrowRelease: {},
	domain.TxTypeRefund:        {},
	domain.TxTypePlatformFee:   {},
	domain.TxTypeAdjustment:    {},
}

// Record appends entries inside the caller's unit of work. Settlement types
// are always written completed; only deposits and withdrawals may start
// pending.
func Record(ctx context.Context, q repository.Querier, entries ...Entry) ([]models.Transaction, error) {
	if len(entries) == 0 {
		return nil, errors.New("record: no entries")
	}
	out := make([]models.Transaction, 0, len(entries))
	for _, e := range entries {
		if e.Amount == 0 {
			return nil, fmt.Errorf("record %s: %w", e.Type, domain.ErrInvalidAmount)
		}
		status := e.Status
		if _, ok := settlementTypes[e.Type]; ok {
			status = domain.TxStatusCompleted
		} else if status == "" {
			status = domain.TxStatusPending
		}
		tx, err := q.CreateTransaction(ctx, repository.CreateTransactionParams{
			ID:          uuid.New(),
			UserID:      e.UserID,
			Type:        e.Type,
			Amount:      e.Amount,
			Status:      status,
			Description: e.Description,
			TicketID:    e.TicketID,
			Reference:   e.Reference,
			Metadata:    e.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("record %s for %s: %w", e.Type, e.UserID, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Net sums the signed amounts of entries.
func Net(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// Reader serves the transaction history read path.
type Reader struct {
	q repository.Querier
}

func NewReader(q repository.Querier) *Reader {
	return &Reader{q: q}
}

const maxPageSize = 200

// ListByUser returns a user's entries newest first.
func (r *Reader) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Transaction, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	items, err := r.q.ListTransactionsByUser(ctx, repository.ListTransactionsByUserParams{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return items, nil
}

// FindByTicket returns every entry tied to a ticket, oldest first.
func (r *Reader) FindByTicket(ctx context.Context, ticketID uuid.UUID) ([]models.Transaction, error) {
	items, err := r.q.ListTransactionsByTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket transactions: %w", err)
	}
	return items, nil
}
