package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries runs the SQL behind Querier on a pool or a transaction.
type Queries struct {
	db DBTX
}

var _ Querier = (*Queries)(nil)

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

func scanWallet(row pgx.Row) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.UserID, &w.Kind, &w.Balance, &w.Escrow, &w.TotalEarned, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const ensureWallet = `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

func (q *Queries) EnsureWallet(ctx context.Context, userID uuid.UUID) error {
	_, err := q.db.Exec(ctx, ensureWallet, userID)
	return err
}

// The platform row is never written by settlement; its balance is read from
// its completed entries instead.
const selectWallet = `
SELECT w.user_id, w.kind,
       CASE WHEN w.kind = 'platform'
            THEN (SELECT COALESCE(SUM(t.amount), 0) FROM transactions t
                  WHERE t.user_id = w.user_id AND t.status = 'completed')::BIGINT
            ELSE w.balance END,
       w.escrow, w.total_earned, w.created_at, w.updated_at
FROM wallets w`

const getWallet = selectWallet + ` WHERE w.user_id = $1`

func (q *Queries) GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWallet, userID))
}

const getWalletForUpdate = getWallet + ` FOR UPDATE OF w`

func (q *Queries) GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWalletForUpdate, userID))
}

const listWallets = selectWallet + ` ORDER BY w.user_id`

func (q *Queries) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx, listWallets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const addWalletBalance = `
UPDATE wallets
SET balance = balance + $2, updated_at = NOW()
WHERE user_id = $1 AND balance + $2 >= 0
`

func (q *Queries) AddWalletBalance(ctx context.Context, arg AddWalletBalanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, addWalletBalance, arg.UserID, arg.Delta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const addWalletEscrow = `
UPDATE wallets
SET escrow = escrow + $2, updated_at = NOW()
WHERE user_id = $1 AND escrow + $2 >= 0
`

func (q *Queries) AddWalletEscrow(ctx context.Context, arg AddWalletEscrowParams) (int64, error) {
	tag, err := q.db.Exec(ctx, addWalletEscrow, arg.UserID, arg.Delta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const addWalletEarned = `
UPDATE wallets
SET total_earned = total_earned + $2, updated_at = NOW()
WHERE user_id = $1 AND total_earned + $2 >= 0
`

func (q *Queries) AddWalletEarned(ctx context.Context, arg AddWalletEarnedParams) (int64, error) {
	tag, err := q.db.Exec(ctx, addWalletEarned, arg.UserID, arg.Delta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const ticketColumns = `id, seller_id, buyer_id, selling_price, status, ticket_code, on_hold_at, sold_at, expire_at, seller_settled_at, refunded_at, created_at, updated_at`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(
		&t.ID, &t.SellerID, &t.BuyerID, &t.SellingPrice, &t.Status, &t.TicketCode,
		&t.OnHoldAt, &t.SoldAt, &t.ExpireAt, &t.SellerSettledAt, &t.RefundedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

const createTicket = `
INSERT INTO tickets (id, seller_id, selling_price, status, ticket_code, expire_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + ticketColumns

func (q *Queries) CreateTicket(ctx context.Context, arg CreateTicketParams) (models.Ticket, error) {
	return scanTicket(q.db.QueryRow(ctx, createTicket,
		arg.ID, arg.SellerID, arg.SellingPrice, arg.Status, arg.TicketCode, arg.ExpireAt,
	))
}

const getTicket = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`

func (q *Queries) GetTicket(ctx context.Context, id uuid.UUID) (models.Ticket, error) {
	return scanTicket(q.db.QueryRow(ctx, getTicket, id))
}

const getTicketForUpdate = getTicket + ` FOR UPDATE`

func (q *Queries) GetTicketForUpdate(ctx context.Context, id uuid.UUID) (models.Ticket, error) {
	return scanTicket(q.db.QueryRow(ctx, getTicketForUpdate, id))
}

const updateTicket = `
UPDATE tickets
SET status = $3,
    buyer_id = $4,
    ticket_code = $5,
    on_hold_at = $6,
    sold_at = $7,
    seller_settled_at = $8,
    refunded_at = $9,
    updated_at = NOW()
WHERE id = $1 AND status = $2
`

func (q *Queries) UpdateTicket(ctx context.Context, arg UpdateTicketParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTicket,
		arg.ID, arg.ExpectStatus, arg.Status, arg.BuyerID, arg.TicketCode,
		arg.OnHoldAt, arg.SoldAt, arg.SellerSettledAt, arg.RefundedAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const listHoldsOlderThan = `
SELECT id FROM tickets
WHERE status = 'on_hold' AND on_hold_at <= $1
ORDER BY on_hold_at
LIMIT $2
`

func (q *Queries) ListHoldsOlderThan(ctx context.Context, arg ListHoldsOlderThanParams) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listHoldsOlderThan, arg.Before, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

const listDeliveredHolds = `
SELECT id FROM tickets
WHERE status = 'on_hold'
  AND ticket_code IS NOT NULL AND ticket_code <> ''
  AND seller_settled_at IS NULL
ORDER BY on_hold_at
LIMIT $1
`

func (q *Queries) ListDeliveredHolds(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listDeliveredHolds, limit)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

const listExpiredListings = `
SELECT id FROM tickets
WHERE status = 'approved' AND expire_at IS NOT NULL AND expire_at <= $1
ORDER BY expire_at
LIMIT $2
`

func (q *Queries) ListExpiredListings(ctx context.Context, arg ListExpiredListingsParams) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listExpiredListings, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

const transactionColumns = `id, user_id, type, amount, status, description, ticket_id, reference, metadata, created_at, updated_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status, &t.Description,
		&t.TicketID, &t.Reference, &t.Metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var items []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const createTransaction = `
INSERT INTO transactions (id, user_id, type, amount, status, description, ticket_id, reference, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + transactionColumns

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, createTransaction,
		arg.ID, arg.UserID, arg.Type, arg.Amount, arg.Status, arg.Description,
		arg.TicketID, arg.Reference, arg.Metadata,
	))
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransaction, id))
}

const getTransactionForUpdate = getTransaction + ` FOR UPDATE`

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionForUpdate, id))
}

const getTransactionByReferenceForUpdate = `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1 FOR UPDATE`

func (q *Queries) GetTransactionByReferenceForUpdate(ctx context.Context, reference string) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByReferenceForUpdate, reference))
}

const getTransactionStatusForUpdate = `SELECT status FROM transactions WHERE id = $1 FOR UPDATE`

func (q *Queries) GetTransactionStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := q.db.QueryRow(ctx, getTransactionStatusForUpdate, id).Scan(&status)
	return status, err
}

const updateTransactionStatus = `UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2`

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTransactionStatus, arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listTransactionsByUser = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListTransactionsByUser(ctx context.Context, arg ListTransactionsByUserParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, listTransactionsByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

const listTransactionsByTicket = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE ticket_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListTransactionsByTicket(ctx context.Context, ticketID uuid.UUID) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, listTransactionsByTicket, ticketID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

const listPendingTransactions = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE type = $1 AND status = 'pending' AND created_at <= $2
ORDER BY created_at
LIMIT $3
`

func (q *Queries) ListPendingTransactions(ctx context.Context, arg ListPendingTransactionsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, listPendingTransactions, arg.Type, arg.CreatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// Reserved withdrawals count while pending: their debit is already applied.
const sumLedgerByWallet = `
SELECT user_id,
       COALESCE(SUM(amount) FILTER (WHERE type NOT IN ('escrow_hold', 'escrow_release')), 0)::BIGINT AS balance,
       COALESCE(SUM(amount) FILTER (WHERE type IN ('escrow_hold', 'escrow_release')), 0)::BIGINT AS escrow
FROM transactions
WHERE status = 'completed' OR (type = 'withdraw' AND status = 'pending')
GROUP BY user_id
ORDER BY user_id
`

func (q *Queries) SumLedgerByWallet(ctx context.Context) ([]WalletLedgerSum, error) {
	rows, err := q.db.Query(ctx, sumLedgerByWallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WalletLedgerSum
	for rows.Next() {
		var s WalletLedgerSum
		if err := rows.Scan(&s.UserID, &s.Balance, &s.Escrow); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// Money that entered or left the system: settled deposits, reserved or paid
// withdrawals and admin adjustments.
const sumExternalFlows = `
SELECT COALESCE(SUM(amount), 0)::bigint
FROM transactions
WHERE (type IN ('deposit', 'adjustment') AND status = 'completed')
   OR (type = 'withdraw' AND status IN ('pending', 'completed'))
`

func (q *Queries) SumExternalFlows(ctx context.Context) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, sumExternalFlows).Scan(&total)
	return total, err
}

const insertAuditLog = `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at
`

func scanAuditLog(row pgx.Row) (models.AuditLog, error) {
	var a models.AuditLog
	err := row.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.ActorID, &a.Action, &a.PrevState, &a.NextState, &a.Metadata, &a.CreatedAt)
	return a, err
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (models.AuditLog, error) {
	return scanAuditLog(q.db.QueryRow(ctx, insertAuditLog,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	))
}

const listAuditLogByEntity = `
SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY id
`

func (q *Queries) ListAuditLogByEntity(ctx context.Context, arg ListAuditLogByEntityParams) ([]models.AuditLog, error) {
	rows, err := q.db.Query(ctx, listAuditLogByEntity, arg.EntityType, arg.EntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, response_status, COALESCE(response_body, ''::bytea), content_type, in_progress, created_at, updated_at`

func scanIdempotencyKey(row pgx.Row) (models.IdempotencyKey, error) {
	var k models.IdempotencyKey
	err := row.Scan(&k.IdempotencyKey, &k.RequestHash, &k.Method, &k.Path, &k.ResponseStatus, &k.ResponseBody, &k.ContentType, &k.InProgress, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

const getIdempotencyKey = `SELECT ` + idempotencyColumns + ` FROM idempotency_keys WHERE idempotency_key = $1`

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, getIdempotencyKey, key))
}

// ON CONFLICT DO NOTHING returns no row when the key is already taken.
const reserveIdempotencyKey = `
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING ` + idempotencyColumns

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (models.IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path))
}

const finalizeIdempotencyKey = `
UPDATE idempotency_keys
SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
WHERE idempotency_key = $4 AND request_hash = $5
RETURNING ` + idempotencyColumns

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (models.IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash,
	))
}

const deleteIdempotencyKey = `
DELETE FROM idempotency_keys
WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress
`

func (q *Queries) DeleteIdempotencyKey(ctx context.Context, arg DeleteIdempotencyKeyParams) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteIdempotencyKey, arg.IdempotencyKey, arg.RequestHash)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
