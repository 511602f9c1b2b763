// Package memstore is an in-process implementation of the repository
// contract. Units of work are serialized by a single mutex and applied with
// copy-on-commit, so a failed unit leaves no trace.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
)

type state struct {
	wallets      map[uuid.UUID]models.Wallet
	tickets      map[uuid.UUID]models.Ticket
	transactions map[uuid.UUID]models.Transaction
	txOrder      []uuid.UUID
	references   map[string]uuid.UUID
	audit        []models.AuditLog
	idempotency  map[string]models.IdempotencyKey
}

func newState() *state {
	return &state{
		wallets:      map[uuid.UUID]models.Wallet{},
		tickets:      map[uuid.UUID]models.Ticket{},
		transactions: map[uuid.UUID]models.Transaction{},
		references:   map[string]uuid.UUID{},
		idempotency:  map[string]models.IdempotencyKey{},
	}
}

// Rows are replaced, never mutated in place, so copying the containers is
// enough to isolate a unit of work.
func (s *state) clone() *state {
	c := &state{
		wallets:      make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		tickets:      make(map[uuid.UUID]models.Ticket, len(s.tickets)),
		transactions: make(map[uuid.UUID]models.Transaction, len(s.transactions)),
		txOrder:      append([]uuid.UUID(nil), s.txOrder...),
		references:   make(map[string]uuid.UUID, len(s.references)),
		audit:        append([]models.AuditLog(nil), s.audit...),
		idempotency:  make(map[string]models.IdempotencyKey, len(s.idempotency)),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.references {
		c.references[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// Store satisfies the same contract as repository.Store.
type Store struct {
	mu        sync.Mutex
	st        *state
	now       func() time.Time
	conflicts int
}

func New() *Store {
	s := &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
	platformID := uuid.MustParse(domain.PlatformAccountID)
	s.st.wallets[platformID] = models.Wallet{
		UserID:    platformID,
		Kind:      domain.WalletKindPlatform,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	return s
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// InjectConflicts makes the next n units fail with
// domain.ErrConcurrentModification before committing.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

func (s *Store) Queries() repository.Querier {
	return &queries{store: s, locked: false}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&queries{store: s, st: work, locked: true}); err != nil {
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		return domain.ErrConcurrentModification
	}
	s.st = work
	return nil
}

type queries struct {
	store  *Store
	st     *state
	locked bool
}

var _ repository.Querier = (*queries)(nil)

// with runs fn against the unit's snapshot, or against live state under the
// store mutex for calls made outside RunInTx.
func (q *queries) with(fn func(st *state) error) error {
	if q.locked {
		return fn(q.st)
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return fn(q.store.st)
}

func (q *queries) EnsureWallet(_ context.Context, userID uuid.UUID) error {
	return q.with(func(st *state) error {
		if _, ok := st.wallets[userID]; ok {
			return nil
		}
		now := q.store.now()
		st.wallets[userID] = models.Wallet{UserID: userID, Kind: domain.WalletKindUser, CreatedAt: now, UpdatedAt: now}
		return nil
	})
}

func (q *queries) GetWallet(_ context.Context, userID uuid.UUID) (models.Wallet, error) {
	var w models.Wallet
	err := q.with(func(st *state) error {
		row, ok := st.wallets[userID]
		if !ok {
			return repository.ErrNoRows
		}
		w = st.derive(row)
		return nil
	})
	return w, err
}

// derive fills the platform balance from its completed entries, matching the
// Postgres read path.
func (st *state) derive(w models.Wallet) models.Wallet {
	if w.Kind != domain.WalletKindPlatform {
		return w
	}
	w.Balance = 0
	for _, tx := range st.transactions {
		if tx.UserID == w.UserID && tx.Status == domain.TxStatusCompleted {
			w.Balance += tx.Amount
		}
	}
	return w
}

func (q *queries) GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	return q.GetWallet(ctx, userID)
}

func (q *queries) ListWallets(context.Context) ([]models.Wallet, error) {
	var items []models.Wallet
	err := q.with(func(st *state) error {
		for _, w := range st.wallets {
			items = append(items, st.derive(w))
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].UserID.String() < items[j].UserID.String() })
	return items, err
}

func (q *queries) updateWallet(userID uuid.UUID, apply func(w *models.Wallet) bool) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		w, ok := st.wallets[userID]
		if !ok {
			return nil
		}
		if !apply(&w) {
			return nil
		}
		w.UpdatedAt = q.store.now()
		st.wallets[userID] = w
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) AddWalletBalance(_ context.Context, arg repository.AddWalletBalanceParams) (int64, error) {
	return q.updateWallet(arg.UserID, func(w *models.Wallet) bool {
		if w.Balance+arg.Delta < 0 {
			return false
		}
		w.Balance += arg.Delta
		return true
	})
}

func (q *queries) AddWalletEscrow(_ context.Context, arg repository.AddWalletEscrowParams) (int64, error) {
	return q.updateWallet(arg.UserID, func(w *models.Wallet) bool {
		if w.Escrow+arg.Delta < 0 {
			return false
		}
		w.Escrow += arg.Delta
		return true
	})
}

func (q *queries) AddWalletEarned(_ context.Context, arg repository.AddWalletEarnedParams) (int64, error) {
	return q.updateWallet(arg.UserID, func(w *models.Wallet) bool {
		if w.TotalEarned+arg.Delta < 0 {
			return false
		}
		w.TotalEarned += arg.Delta
		return true
	})
}

func (q *queries) CreateTicket(_ context.Context, arg repository.CreateTicketParams) (models.Ticket, error) {
	var t models.Ticket
	err := q.with(func(st *state) error {
		if _, ok := st.tickets[arg.ID]; ok {
			return errors.New("duplicate ticket id")
		}
		now := q.store.now()
		t = models.Ticket{
			ID:           arg.ID,
			SellerID:     arg.SellerID,
			SellingPrice: arg.SellingPrice,
			Status:       arg.Status,
			TicketCode:   arg.TicketCode,
			ExpireAt:     arg.ExpireAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		st.tickets[t.ID] = t
		return nil
	})
	return t, err
}

func (q *queries) GetTicket(_ context.Context, id uuid.UUID) (models.Ticket, error) {
	var t models.Ticket
	err := q.with(func(st *state) error {
		row, ok := st.tickets[id]
		if !ok {
			return repository.ErrNoRows
		}
		t = row
		return nil
	})
	return t, err
}

func (q *queries) GetTicketForUpdate(ctx context.Context, id uuid.UUID) (models.Ticket, error) {
	return q.GetTicket(ctx, id)
}

func (q *queries) UpdateTicket(_ context.Context, arg repository.UpdateTicketParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		t, ok := st.tickets[arg.ID]
		if !ok || t.Status != arg.ExpectStatus {
			return nil
		}
		t.Status = arg.Status
		t.BuyerID = arg.BuyerID
		t.TicketCode = arg.TicketCode
		t.OnHoldAt = arg.OnHoldAt
		t.SoldAt = arg.SoldAt
		t.SellerSettledAt = arg.SellerSettledAt
		t.RefundedAt = arg.RefundedAt
		t.UpdatedAt = q.store.now()
		st.tickets[t.ID] = t
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) selectTickets(limit int32, match func(t models.Ticket) bool, key func(t models.Ticket) time.Time) ([]uuid.UUID, error) {
	var found []models.Ticket
	err := q.with(func(st *state) error {
		for _, t := range st.tickets {
			if match(t) {
				found = append(found, t)
			}
		}
		return nil
	})
	sort.Slice(found, func(i, j int) bool { return key(found[i]).Before(key(found[j])) })
	ids := make([]uuid.UUID, 0, len(found))
	for i, t := range found {
		if limit > 0 && int32(i) >= limit {
			break
		}
		ids = append(ids, t.ID)
	}
	return ids, err
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (q *queries) ListHoldsOlderThan(_ context.Context, arg repository.ListHoldsOlderThanParams) ([]uuid.UUID, error) {
	return q.selectTickets(arg.Limit, func(t models.Ticket) bool {
		return t.Status == domain.TicketStatusOnHold && t.OnHoldAt != nil && !t.OnHoldAt.After(arg.Before)
	}, func(t models.Ticket) time.Time { return timeOrZero(t.OnHoldAt) })
}

func (q *queries) ListDeliveredHolds(_ context.Context, limit int32) ([]uuid.UUID, error) {
	return q.selectTickets(limit, func(t models.Ticket) bool {
		return t.Status == domain.TicketStatusOnHold && t.HasCode() && t.SellerSettledAt == nil
	}, func(t models.Ticket) time.Time { return timeOrZero(t.OnHoldAt) })
}

func (q *queries) ListExpiredListings(_ context.Context, arg repository.ListExpiredListingsParams) ([]uuid.UUID, error) {
	return q.selectTickets(arg.Limit, func(t models.Ticket) bool {
		return t.Status == domain.TicketStatusApproved && t.ExpireAt != nil && !t.ExpireAt.After(arg.Now)
	}, func(t models.Ticket) time.Time { return timeOrZero(t.ExpireAt) })
}

func (q *queries) CreateTransaction(_ context.Context, arg repository.CreateTransactionParams) (models.Transaction, error) {
	var tx models.Transaction
	err := q.with(func(st *state) error {
		if _, ok := st.wallets[arg.UserID]; !ok {
			return errors.New("transaction references unknown wallet")
		}
		if arg.Reference != nil {
			if _, taken := st.references[*arg.Reference]; taken {
				return errors.New("duplicate transaction reference")
			}
		}
		now := q.store.now()
		tx = models.Transaction{
			ID:          arg.ID,
			UserID:      arg.UserID,
			Type:        arg.Type,
			Amount:      arg.Amount,
			Status:      arg.Status,
			Description: arg.Description,
			TicketID:    arg.TicketID,
			Reference:   arg.Reference,
			Metadata:    arg.Metadata,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		st.transactions[tx.ID] = tx
		st.txOrder = append(st.txOrder, tx.ID)
		if arg.Reference != nil {
			st.references[*arg.Reference] = tx.ID
		}
		return nil
	})
	return tx, err
}

func (q *queries) GetTransaction(_ context.Context, id uuid.UUID) (models.Transaction, error) {
	var tx models.Transaction
	err := q.with(func(st *state) error {
		row, ok := st.transactions[id]
		if !ok {
			return repository.ErrNoRows
		}
		tx = row
		return nil
	})
	return tx, err
}

func (q *queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return q.GetTransaction(ctx, id)
}

func (q *queries) GetTransactionByReferenceForUpdate(ctx context.Context, reference string) (models.Transaction, error) {
	var id uuid.UUID
	err := q.with(func(st *state) error {
		found, ok := st.references[reference]
		if !ok {
			return repository.ErrNoRows
		}
		id = found
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return q.GetTransaction(ctx, id)
}

func (q *queries) GetTransactionStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error) {
	tx, err := q.GetTransaction(ctx, id)
	return tx.Status, err
}

func (q *queries) UpdateTransactionStatus(_ context.Context, arg repository.UpdateTransactionStatusParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		tx, ok := st.transactions[arg.ID]
		if !ok {
			return nil
		}
		tx.Status = arg.Status
		tx.UpdatedAt = q.store.now()
		st.transactions[tx.ID] = tx
		rows = 1
		return nil
	})
	return rows, err
}

// scan walks transactions oldest first.
func (q *queries) scan(match func(tx models.Transaction) bool) ([]models.Transaction, error) {
	var items []models.Transaction
	err := q.with(func(st *state) error {
		for _, id := range st.txOrder {
			tx := st.transactions[id]
			if match(tx) {
				items = append(items, tx)
			}
		}
		return nil
	})
	return items, err
}

func (q *queries) ListTransactionsByUser(_ context.Context, arg repository.ListTransactionsByUserParams) ([]models.Transaction, error) {
	items, err := q.scan(func(tx models.Transaction) bool { return tx.UserID == arg.UserID })
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	start := int(arg.Offset)
	if start >= len(items) {
		return nil, nil
	}
	end := len(items)
	if arg.Limit > 0 && start+int(arg.Limit) < end {
		end = start + int(arg.Limit)
	}
	return items[start:end], nil
}

func (q *queries) ListTransactionsByTicket(_ context.Context, ticketID uuid.UUID) ([]models.Transaction, error) {
	return q.scan(func(tx models.Transaction) bool { return tx.TicketID != nil && *tx.TicketID == ticketID })
}

func (q *queries) ListPendingTransactions(_ context.Context, arg repository.ListPendingTransactionsParams) ([]models.Transaction, error) {
	items, err := q.scan(func(tx models.Transaction) bool {
		return tx.Type == arg.Type && tx.Status == domain.TxStatusPending && !tx.CreatedAt.After(arg.CreatedBefore)
	})
	if err != nil {
		return nil, err
	}
	if arg.Limit > 0 && len(items) > int(arg.Limit) {
		items = items[:arg.Limit]
	}
	return items, nil
}

func (q *queries) SumLedgerByWallet(context.Context) ([]repository.WalletLedgerSum, error) {
	sums := map[uuid.UUID]*repository.WalletLedgerSum{}
	_, err := q.scan(func(tx models.Transaction) bool {
		counted := tx.Status == domain.TxStatusCompleted || (tx.Type == domain.TxTypeWithdraw && tx.Status == domain.TxStatusPending)
		if !counted {
			return false
		}
		s, ok := sums[tx.UserID]
		if !ok {
			s = &repository.WalletLedgerSum{UserID: tx.UserID}
			sums[tx.UserID] = s
		}
		if domain.AffectsEscrow(tx.Type) {
			s.Escrow += tx.Amount
		} else {
			s.Balance += tx.Amount
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	items := make([]repository.WalletLedgerSum, 0, len(sums))
	for _, s := range sums {
		items = append(items, *s)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UserID.String() < items[j].UserID.String() })
	return items, nil
}

func (q *queries) SumExternalFlows(context.Context) (int64, error) {
	var total int64
	_, err := q.scan(func(tx models.Transaction) bool {
		switch {
		case (tx.Type == domain.TxTypeDeposit || tx.Type == domain.TxTypeAdjustment) && tx.Status == domain.TxStatusCompleted:
			total += tx.Amount
		case tx.Type == domain.TxTypeWithdraw && tx.Status != domain.TxStatusFailed:
			total += tx.Amount
		}
		return false
	})
	return total, err
}

func (q *queries) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) (models.AuditLog, error) {
	var row models.AuditLog
	err := q.with(func(st *state) error {
		row = models.AuditLog{
			ID:         int64(len(st.audit) + 1),
			EntityType: arg.EntityType,
			EntityID:   arg.EntityID,
			ActorID:    arg.ActorID,
			Action:     arg.Action,
			PrevState:  arg.PrevState,
			NextState:  arg.NextState,
			Metadata:   arg.Metadata,
			CreatedAt:  q.store.now(),
		}
		st.audit = append(st.audit, row)
		return nil
	})
	return row, err
}

func (q *queries) ListAuditLogByEntity(_ context.Context, arg repository.ListAuditLogByEntityParams) ([]models.AuditLog, error) {
	var items []models.AuditLog
	err := q.with(func(st *state) error {
		for _, row := range st.audit {
			if row.EntityType == arg.EntityType && row.EntityID == arg.EntityID {
				items = append(items, row)
			}
		}
		return nil
	})
	return items, err
}

func (q *queries) GetIdempotencyKey(_ context.Context, key string) (models.IdempotencyKey, error) {
	var row models.IdempotencyKey
	err := q.with(func(st *state) error {
		found, ok := st.idempotency[key]
		if !ok {
			return repository.ErrNoRows
		}
		row = found
		return nil
	})
	return row, err
}

func (q *queries) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (models.IdempotencyKey, error) {
	var row models.IdempotencyKey
	err := q.with(func(st *state) error {
		if _, ok := st.idempotency[arg.IdempotencyKey]; ok {
			return repository.ErrNoRows
		}
		now := q.store.now()
		row = models.IdempotencyKey{
			IdempotencyKey: arg.IdempotencyKey,
			RequestHash:    arg.RequestHash,
			Method:         arg.Method,
			Path:           arg.Path,
			ContentType:    "application/json",
			InProgress:     true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		st.idempotency[arg.IdempotencyKey] = row
		return nil
	})
	return row, err
}

func (q *queries) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (models.IdempotencyKey, error) {
	var row models.IdempotencyKey
	err := q.with(func(st *state) error {
		found, ok := st.idempotency[arg.IdempotencyKey]
		if !ok || found.RequestHash != arg.RequestHash {
			return repository.ErrNoRows
		}
		found.ResponseStatus = arg.ResponseStatus
		found.ResponseBody = append([]byte(nil), arg.ResponseBody...)
		found.ContentType = arg.ContentType
		found.InProgress = false
		found.UpdatedAt = q.store.now()
		st.idempotency[arg.IdempotencyKey] = found
		row = found
		return nil
	})
	return row, err
}

func (q *queries) DeleteIdempotencyKey(_ context.Context, arg repository.DeleteIdempotencyKeyParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		found, ok := st.idempotency[arg.IdempotencyKey]
		if !ok || !found.InProgress || found.RequestHash != arg.RequestHash {
			return nil
		}
		delete(st.idempotency, arg.IdempotencyKey)
		rows = 1
		return nil
	})
	return rows, err
}
