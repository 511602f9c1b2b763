package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
)

// ErrNoRows is returned by every Querier lookup that matches nothing.
var ErrNoRows = pgx.ErrNoRows

// Querier is the data access contract shared by the Postgres queries and the
// in-memory store. Methods ending in ForUpdate take a row lock when called
// inside RunInTx.
type Querier interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) error
	GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	ListWallets(ctx context.Context) ([]models.Wallet, error)
	AddWalletBalance(ctx context.Context, arg AddWalletBalanceParams) (int64, error)
	AddWalletEscrow(ctx context.Context, arg AddWalletEscrowParams) (int64, error)
	AddWalletEarned(ctx context.Context, arg AddWalletEarnedParams) (int64, error)

	CreateTicket(ctx context.Context, arg CreateTicketParams) (models.Ticket, error)
	GetTicket(ctx context.Context, id uuid.UUID) (models.Ticket, error)
	GetTicketForUpdate(ctx context.Context, id uuid.UUID) (models.Ticket, error)
	UpdateTicket(ctx context.Context, arg UpdateTicketParams) (int64, error)
	ListHoldsOlderThan(ctx context.Context, arg ListHoldsOlderThanParams) ([]uuid.UUID, error)
	ListDeliveredHolds(ctx context.Context, limit int32) ([]uuid.UUID, error)
	ListExpiredListings(ctx context.Context, arg ListExpiredListingsParams) ([]uuid.UUID, error)

	CreateTransaction(ctx context.Context, arg CreateTransactionParams) (models.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionByReferenceForUpdate(ctx context.Context, reference string) (models.Transaction, error)
	GetTransactionStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error)
	ListTransactionsByUser(ctx context.Context, arg ListTransactionsByUserParams) ([]models.Transaction, error)
	ListTransactionsByTicket(ctx context.Context, ticketID uuid.UUID) ([]models.Transaction, error)
	ListPendingTransactions(ctx context.Context, arg ListPendingTransactionsParams) ([]models.Transaction, error)
	SumLedgerByWallet(ctx context.Context) ([]WalletLedgerSum, error)
	SumExternalFlows(ctx context.Context) (int64, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (models.AuditLog, error)
	ListAuditLogByEntity(ctx context.Context, arg ListAuditLogByEntityParams) ([]models.AuditLog, error)

	GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (models.IdempotencyKey, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (models.IdempotencyKey, error)
	DeleteIdempotencyKey(ctx context.Context, arg DeleteIdempotencyKeyParams) (int64, error)
}

// AddWalletBalanceParams applies Delta to balance. The update matches no row
// when the result would be negative for a user wallet.
type AddWalletBalanceParams struct {
	UserID uuid.UUID
	Delta  int64
}

type AddWalletEscrowParams struct {
	UserID uuid.UUID
	Delta  int64
}

type AddWalletEarnedParams struct {
	UserID uuid.UUID
	Delta  int64
}

type CreateTicketParams struct {
	ID           uuid.UUID
	SellerID     uuid.UUID
	SellingPrice int64
	Status       string
	TicketCode   *string
	ExpireAt     *time.Time
}

// UpdateTicketParams overwrites the mutable columns of a ticket whose status
// is still ExpectStatus.
type UpdateTicketParams struct {
	ID              uuid.UUID
	ExpectStatus    string
	Status          string
	BuyerID         *uuid.UUID
	TicketCode      *string
	OnHoldAt        *time.Time
	SoldAt          *time.Time
	SellerSettledAt *time.Time
	RefundedAt      *time.Time
}

// TicketUpdate seeds UpdateTicketParams from the current row.
func TicketUpdate(t models.Ticket, status string) UpdateTicketParams {
	return UpdateTicketParams{
		ID:              t.ID,
		ExpectStatus:    t.Status,
		Status:          status,
		BuyerID:         t.BuyerID,
		TicketCode:      t.TicketCode,
		OnHoldAt:        t.OnHoldAt,
		SoldAt:          t.SoldAt,
		SellerSettledAt: t.SellerSettledAt,
		RefundedAt:      t.RefundedAt,
	}
}

type ListHoldsOlderThanParams struct {
	Before time.Time
	Limit  int32
}

type ListExpiredListingsParams struct {
	Now   time.Time
	Limit int32
}

type CreateTransactionParams struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Type        string
	Amount      int64
	Status      string
	Description string
	TicketID    *uuid.UUID
	Reference   *string
	Metadata    []byte
}

type UpdateTransactionStatusParams struct {
	Status string
	ID     uuid.UUID
}

type ListTransactionsByUserParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

type ListPendingTransactionsParams struct {
	Type          string
	CreatedBefore time.Time
	Limit         int32
}

// WalletLedgerSum is what a wallet should hold according to its entries.
type WalletLedgerSum struct {
	UserID  uuid.UUID
	Balance int64
	Escrow  int64
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type ListAuditLogByEntityParams struct {
	EntityType string
	EntityID   uuid.UUID
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

// DeleteIdempotencyKeyParams drops a reservation that never finalized.
type DeleteIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
}
