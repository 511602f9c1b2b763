package models

import (
	"time"

	"github.com/google/uuid"
)

type Wallet struct {
	UserID      uuid.UUID `json:"user_id"`
	Kind        string    `json:"kind"`
	Balance     int64     `json:"balance"`
	Escrow      int64     `json:"escrow"`
	TotalEarned int64     `json:"total_earned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Ticket struct {
	ID              uuid.UUID  `json:"id"`
	SellerID        uuid.UUID  `json:"seller_id"`
	BuyerID         *uuid.UUID `json:"buyer_id,omitempty"`
	SellingPrice    int64      `json:"selling_price"`
	Status          string     `json:"status"`
	TicketCode      *string    `json:"-"`
	OnHoldAt        *time.Time `json:"on_hold_at,omitempty"`
	SoldAt          *time.Time `json:"sold_at,omitempty"`
	ExpireAt        *time.Time `json:"expire_at,omitempty"`
	SellerSettledAt *time.Time `json:"seller_settled_at,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasCode reports whether the seller already attached the ticket code or QR.
func (t Ticket) HasCode() bool {
	return t.TicketCode != nil && *t.TicketCode != ""
}

type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Type        string     `json:"type"`
	Amount      int64      `json:"amount"` // signed delta on balance, or on escrow for escrow_* types
	Status      string     `json:"status"`
	Description string     `json:"description"`
	TicketID    *uuid.UUID `json:"ticket_id,omitempty"`
	Reference   *string    `json:"reference,omitempty"`
	Metadata    []byte     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type AuditLog struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   []byte     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Actor is the authenticated principal passed into every settlement call.
type Actor struct {
	ID      uuid.UUID
	IsAdmin bool
}

// SystemActor is used by background sweeps.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, IsAdmin: true}
}

// AuditID returns the id recorded in audit rows; sweeps record none.
func (a Actor) AuditID() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}
