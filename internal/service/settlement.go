package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/ledger"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/notify"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"go.uber.org/zap"
)

const holdAcknowledgement = "held: confirm receipt within 15 minutes"

const maxTicketCodeLength = 512

// ErrCodeNotDelivered means the seller has not attached the ticket code yet.
var ErrCodeNotDelivered = errors.New("ticket code not delivered yet")

// SettlementConfig tunes the orchestrator. Zero fields take the defaults,
// MaxRetries included.
type SettlementConfig struct {
	Fees         domain.FeePolicy
	HoldWindow   time.Duration
	RefundWindow time.Duration
	MaxRetries   uint64
	RetryBackoff time.Duration
	SweepBatch   int32
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		Fees:         domain.DefaultFeePolicy(),
		HoldWindow:   domain.DefaultHoldWindow,
		RefundWindow: domain.DefaultRefundWindow,
		MaxRetries:   3,
		RetryBackoff: 25 * time.Millisecond,
		SweepBatch:   100,
	}
}

// SettlementService moves money between buyer, seller and platform as tickets
// change hands. Every call is one unit of work over the ticket row, the
// wallets it touches and the entries it writes.
type SettlementService struct {
	store QueryStore
	units unitRunner
	audit *AuditService
	cfg   SettlementConfig
	now   func() time.Time
}

func NewSettlementService(store QueryStore, notifier Notifier, cfg SettlementConfig) *SettlementService {
	def := DefaultSettlementConfig()
	if cfg.Fees.BuyerFeeRate.IsZero() && cfg.Fees.SellerNetRate.IsZero() {
		cfg.Fees = def.Fees
	}
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = def.HoldWindow
	}
	if cfg.RefundWindow <= 0 {
		cfg.RefundWindow = def.RefundWindow
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	return &SettlementService{
		store: store,
		units: unitRunner{store: store, notifier: notifier, maxRetries: cfg.MaxRetries, backoff: cfg.RetryBackoff},
		audit: NewAuditService(),
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

// Fees exposes the active fee policy.
func (s *SettlementService) Fees() domain.FeePolicy {
	return s.cfg.Fees
}

// BuyResult is returned to the buyer.
type BuyResult struct {
	TicketID      uuid.UUID    `json:"ticket_id"`
	Status        string       `json:"status"`
	TicketCode    *string      `json:"ticket_code,omitempty"`
	HoldExpiresAt *time.Time   `json:"hold_expires_at,omitempty"`
	Message       string       `json:"message"`
	Quote         domain.Quote `json:"quote"`
}

// SettlementResult is returned by ConfirmDelivery, Cancel and admin actions.
// TicketCode is only set for the holder confirming delivery.
type SettlementResult struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	Status     string    `json:"status"`
	TicketCode *string   `json:"ticket_code,omitempty"`
	Message    string    `json:"message"`
}

// CodeResult carries a delivered ticket code to its holder.
type CodeResult struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	Status     string    `json:"status"`
	TicketCode string    `json:"ticket_code"`
}

// ItemResult is one line of a batch or sweep report.
type ItemResult struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// BatchResult reports each unit of a batch independently.
type BatchResult struct {
	Processed int          `json:"processed"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

func (b *BatchResult) add(id uuid.UUID, status string, err error) {
	item := ItemResult{ID: id, Status: status}
	switch {
	case err != nil:
		item.Status = "failed"
		item.Error = err.Error()
		b.Failed++
	case status == "skipped":
		b.Skipped++
	default:
		b.Processed++
	}
	b.Items = append(b.Items, item)
}

func lockTicket(ctx context.Context, q repository.Querier, ticketID uuid.UUID) (models.Ticket, error) {
	ticket, err := q.GetTicketForUpdate(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return models.Ticket{}, domain.ErrTicketNotFound
		}
		return models.Ticket{}, fmt.Errorf("lock ticket: %w", err)
	}
	return ticket, nil
}

// saveTicket applies the update only if nobody changed the status since it
// was read.
func saveTicket(ctx context.Context, q repository.Querier, upd repository.UpdateTicketParams) error {
	rows, err := q.UpdateTicket(ctx, upd)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("%w: ticket %s left %s", domain.ErrConcurrentModification, upd.ID, upd.ExpectStatus)
	}
	return nil
}

func ticketMetadata(fields map[string]any) []byte {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return raw
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func ticketEvent(kind string, ticket models.Ticket, buyerID *uuid.UUID, amount int64, message string) notify.Event {
	users := []uuid.UUID{ticket.SellerID}
	if buyerID != nil {
		users = append(users, *buyerID)
	}
	return notify.Event{
		Kind:     kind,
		TicketID: uuidPtr(ticket.ID),
		SellerID: uuidPtr(ticket.SellerID),
		BuyerID:  buyerID,
		UserIDs:  users,
		Amount:   amount,
		Message:  message,
	}
}

// Buy reserves or instantly purchases an approved ticket for actor.
func (s *SettlementService) Buy(ctx context.Context, actor models.Actor, ticketID uuid.UUID) (*BuyResult, error) {
	var result *BuyResult
	err := s.units.run(ctx, "buy", func(q repository.Querier) ([]notify.Event, error) {
		now := s.now()
		ticket, err := lockTicket(ctx, q, ticketID)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateBuy(ticket.Status, ticket.SellerID, actor.ID, ticket.ExpireAt, now); err != nil {
			return nil, err
		}
		quote, err := s.cfg.Fees.Quote(ticket.SellingPrice)
		if err != nil {
			return nil, err
		}
		event := domain.BuyEvent(ticket.HasCode())
		next, err := domain.NextTicketStatus(ticket.Status, event)
		if err != nil {
			return nil, err
		}

		wallets, err := ledger.Lock(ctx, q, actor.ID, ticket.SellerID)
		if err != nil {
			return nil, err
		}
		if available := wallets[actor.ID].Balance; available < quote.BuyerTotal {
			return nil, &domain.InsufficientFundsError{Required: quote.BuyerTotal, Available: available}
		}

		p := newPosting(ctx, q, uuidPtr(ticket.ID))
		if err := p.balance(actor.ID, domain.TxTypePurchase, -quote.BuyerTotal, "Ticket purchase"); err != nil {
			return nil, err
		}

		buyerID := uuidPtr(actor.ID)
		upd := repository.TicketUpdate(ticket, next)
		upd.BuyerID = buyerID
		res := &BuyResult{TicketID: ticket.ID, Status: next, Quote: quote}
		var kind string

		switch next {
		case domain.TicketStatusOnHold:
			if err := p.escrow(ticket.SellerID, domain.TxTypeEscrowHold, quote.SellingPrice, "Sale proceeds held in escrow"); err != nil {
				return nil, err
			}
			if err := p.platform(quote.BuyerFee, "Buyer fee"); err != nil {
				return nil, err
			}
			upd.OnHoldAt = &now
			expires := now.Add(s.cfg.HoldWindow)
			res.HoldExpiresAt = &expires
			res.Message = holdAcknowledgement
			kind = notify.KindTicketHeld
		case domain.TicketStatusSold:
			if err := s.paySeller(ctx, q, p, ticket.SellerID, quote.SellerNet); err != nil {
				return nil, err
			}
			if err := p.platform(quote.PlatformFee, "Platform fee"); err != nil {
				return nil, err
			}
			upd.OnHoldAt = nil
			upd.SoldAt = &now
			upd.SellerSettledAt = &now
			res.TicketCode = ticket.TicketCode
			res.Message = "purchase complete, your ticket code is ready"
			kind = notify.KindTicketSold
		}

		if err := saveTicket(ctx, q, upd); err != nil {
			return nil, err
		}
		if _, err := p.commit(); err != nil {
			return nil, err
		}
		meta := ticketMetadata(map[string]any{"buyer_id": actor.ID, "buyer_total": quote.BuyerTotal, "seller_net": quote.SellerNet})
		if err := s.audit.Write(ctx, q, "ticket", ticket.ID, actor.AuditID(), event, ticket.Status, next, meta); err != nil {
			return nil, err
		}
		result = res
		return []notify.Event{ticketEvent(kind, ticket, buyerID, quote.BuyerTotal, res.Message)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SettlementService) paySeller(ctx context.Context, q repository.Querier, p *posting, sellerID uuid.UUID, sellerNet int64) error {
	if sellerNet <= 0 {
		return nil
	}
	if err := p.balance(sellerID, domain.TxTypeSale, sellerNet, "Ticket sale"); err != nil {
		return err
	}
	return ledger.AddEarned(ctx, q, sellerID, sellerNet)
}

// ConfirmDelivery releases escrow to the seller. The holder or an admin may
// confirm.
func (s *SettlementService) ConfirmDelivery(ctx context.Context, actor models.Actor, ticketID uuid.UUID) (*SettlementResult, error) {
	var result *SettlementResult
	err := s.units.run(ctx, "confirm_delivery", func(q repository.Querier) ([]notify.Event, error) {
		ticket, err := lockTicket(ctx, q, ticketID)
		if err != nil {
			return nil, err
		}
		if ticket.Status == domain.TicketStatusOnHold && !actor.IsAdmin && (ticket.BuyerID == nil || *ticket.BuyerID != actor.ID) {
			return nil, domain.ErrForbidden
		}
		ev, err := s.settleHold(ctx, q, ticket, actor, "confirm_delivery")
		if err != nil {
			return nil, err
		}
		result = &SettlementResult{TicketID: ticket.ID, Status: domain.TicketStatusSold, Message: "delivery confirmed, seller paid"}
		if ticket.BuyerID != nil && *ticket.BuyerID == actor.ID {
			result.TicketCode = ticket.TicketCode
		}
		return []notify.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settleHold turns an on_hold ticket into sold exactly once. The
// seller_settled_at marker is checked and set in the same unit as the credit.
func (s *SettlementService) settleHold(ctx context.Context, q repository.Querier, ticket models.Ticket, actor models.Actor, action string) (notify.Event, error) {
	next, err := domain.NextTicketStatus(ticket.Status, domain.EventConfirmDelivery)
	if err != nil {
		return notify.Event{}, err
	}
	if ticket.SellerSettledAt != nil {
		return notify.Event{}, &domain.TransitionError{From: ticket.Status, Event: domain.EventConfirmDelivery}
	}
	quote, err := s.cfg.Fees.Quote(ticket.SellingPrice)
	if err != nil {
		return notify.Event{}, err
	}
	history, err := q.ListTransactionsByTicket(ctx, ticket.ID)
	if err != nil {
		return notify.Event{}, fmt.Errorf("load ticket entries: %w", err)
	}
	pos := positionOf(history, ticket.BuyerID, ticket.SellerID)

	if _, err := ledger.Lock(ctx, q, ticket.SellerID); err != nil {
		return notify.Event{}, err
	}
	p := newPosting(ctx, q, uuidPtr(ticket.ID))
	if err := p.escrow(ticket.SellerID, domain.TxTypeEscrowRelease, -pos.EscrowHeld, "Escrow released on delivery"); err != nil {
		return notify.Event{}, err
	}
	if err := s.paySeller(ctx, q, p, ticket.SellerID, quote.SellerNet); err != nil {
		return notify.Event{}, err
	}
	if err := p.platform(pos.EscrowHeld-quote.SellerNet, "Seller fee"); err != nil {
		return notify.Event{}, err
	}

	now := s.now()
	upd := repository.TicketUpdate(ticket, next)
	upd.SoldAt = &now
	upd.SellerSettledAt = &now
	if err := saveTicket(ctx, q, upd); err != nil {
		return notify.Event{}, err
	}
	if _, err := p.commit(); err != nil {
		return notify.Event{}, err
	}
	meta := ticketMetadata(map[string]any{"escrow_released": pos.EscrowHeld, "seller_net": quote.SellerNet})
	if err := s.audit.Write(ctx, q, "ticket", ticket.ID, actor.AuditID(), action, ticket.Status, next, meta); err != nil {
		return notify.Event{}, err
	}
	return ticketEvent(notify.KindTicketSold, ticket, ticket.BuyerID, quote.SellerNet, "ticket delivered"), nil
}

// Cancel releases an active hold back to approved, or refunds a sold ticket
// within the refund window. Admins may refund at any time. Once the seller
// has delivered the code only an admin can release the hold.
func (s *SettlementService) Cancel(ctx context.Context, actor models.Actor, ticketID uuid.UUID) (*SettlementResult, error) {
	var result *SettlementResult
	err := s.units.run(ctx, "cancel", func(q repository.Querier) ([]notify.Event, error) {
		ticket, err := lockTicket(ctx, q, ticketID)
		if err != nil {
			return nil, err
		}
		isHolder := ticket.BuyerID != nil && *ticket.BuyerID == actor.ID
		switch ticket.Status {
		case domain.TicketStatusOnHold:
			if !isHolder && !actor.IsAdmin {
				return nil, domain.ErrForbidden
			}
			if ticket.HasCode() && !actor.IsAdmin {
				return nil, &domain.TransitionError{From: ticket.Status, Event: domain.EventCancel}
			}
			ev, err := s.releaseHold(ctx, q, ticket, actor, "cancel_hold")
			if err != nil {
				return nil, err
			}
			result = &SettlementResult{TicketID: ticket.ID, Status: domain.TicketStatusApproved, Message: "hold cancelled, buyer refunded"}
			return []notify.Event{ev}, nil
		case domain.TicketStatusSold:
			if !isHolder && !actor.IsAdmin {
				return nil, domain.ErrForbidden
			}
			if !domain.CanCancelSale(ticket.SoldAt, s.now(), s.cfg.RefundWindow, actor.IsAdmin) {
				return nil, &domain.TransitionError{From: ticket.Status, Event: domain.EventCancel}
			}
			ev, err := s.refundSale(ctx, q, ticket, actor)
			if err != nil {
				return nil, err
			}
			result = &SettlementResult{TicketID: ticket.ID, Status: domain.TicketStatusCancelled, Message: "sale cancelled, buyer refunded"}
			return []notify.Event{ev}, nil
		default:
			if _, err := domain.NextTicketStatus(ticket.Status, domain.EventCancel); err != nil {
				return nil, err
			}
			return nil, &domain.TransitionError{From: ticket.Status, Event: domain.EventCancel}
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// releaseHold returns the buyer's payment and the seller's escrow and puts
// the ticket back on sale. A code the holder may already have seen is
// dropped, so the seller must deliver a fresh one.
func (s *SettlementService) releaseHold(ctx context.Context, q repository.Querier, ticket models.Ticket, actor models.Actor, action string) (notify.Event, error) {
	next, err := domain.NextTicketStatus(ticket.Status, domain.EventReleaseHold)
	if err != nil {
		return notify.Event{}, err
	}
	history, err := q.ListTransactionsByTicket(ctx, ticket.ID)
	if err != nil {
		return notify.Event{}, fmt.Errorf("load ticket entries: %w", err)
	}
	pos := positionOf(history, ticket.BuyerID, ticket.SellerID)
	buyerID := *ticket.BuyerID

	if _, err := ledger.Lock(ctx, q, buyerID, ticket.SellerID); err != nil {
		return notify.Event{}, err
	}
	p := newPosting(ctx, q, uuidPtr(ticket.ID))
	if err := p.escrow(ticket.SellerID, domain.TxTypeEscrowRelease, -pos.EscrowHeld, "Hold released"); err != nil {
		return notify.Event{}, err
	}
	if err := p.balance(buyerID, domain.TxTypeRefund, pos.BuyerPaid, "Hold released, payment returned"); err != nil {
		return notify.Event{}, err
	}
	if err := p.platform(-(pos.BuyerPaid - pos.EscrowHeld), "Buyer fee returned"); err != nil {
		return notify.Event{}, err
	}

	upd := repository.TicketUpdate(ticket, next)
	upd.BuyerID = nil
	upd.OnHoldAt = nil
	upd.TicketCode = nil
	if err := saveTicket(ctx, q, upd); err != nil {
		return notify.Event{}, err
	}
	if _, err := p.commit(); err != nil {
		return notify.Event{}, err
	}
	meta := ticketMetadata(map[string]any{"buyer_id": buyerID, "refunded": pos.BuyerPaid})
	if err := s.audit.Write(ctx, q, "ticket", ticket.ID, actor.AuditID(), action, ticket.Status, next, meta); err != nil {
		return notify.Event{}, err
	}
	return ticketEvent(notify.KindTicketReleased, ticket, ticket.BuyerID, pos.BuyerPaid, "reservation released"), nil
}

// refundSale reverses a completed sale. The seller gives back what the sale
// paid them, clamped at their current balance; the platform absorbs the rest.
func (s *SettlementService) refundSale(ctx context.Context, q repository.Querier, ticket models.Ticket, actor models.Actor) (notify.Event, error) {
	next, err := domain.NextTicketStatus(ticket.Status, domain.EventCancel)
	if err != nil {
		return notify.Event{}, err
	}
	if ticket.RefundedAt != nil || ticket.BuyerID == nil {
		return notify.Event{}, &domain.TransitionError{From: ticket.Status, Event: domain.EventCancel}
	}
	history, err := q.ListTransactionsByTicket(ctx, ticket.ID)
	if err != nil {
		return notify.Event{}, fmt.Errorf("load ticket entries: %w", err)
	}
	pos := positionOf(history, ticket.BuyerID, ticket.SellerID)
	buyerID := *ticket.BuyerID

	if _, err := ledger.Lock(ctx, q, buyerID, ticket.SellerID); err != nil {
		return notify.Event{}, err
	}
	p := newPosting(ctx, q, uuidPtr(ticket.ID))
	if err := p.balance(buyerID, domain.TxTypeRefund, pos.BuyerPaid, "Sale cancelled, full refund"); err != nil {
		return notify.Event{}, err
	}
	taken, err := p.balanceClamped(ticket.SellerID, domain.TxTypeRefund, pos.SellerReceived, "Sale cancelled, proceeds reversed")
	if err != nil {
		return notify.Event{}, err
	}
	if pos.SellerReceived > 0 {
		if _, err := ledger.SubEarnedClamped(ctx, q, ticket.SellerID, pos.SellerReceived); err != nil {
			return notify.Event{}, err
		}
	}
	if err := p.platform(-(pos.BuyerPaid - taken), "Fees reversed on refund"); err != nil {
		return notify.Event{}, err
	}

	now := s.now()
	upd := repository.TicketUpdate(ticket, next)
	upd.RefundedAt = &now
	if err := saveTicket(ctx, q, upd); err != nil {
		return notify.Event{}, err
	}
	if _, err := p.commit(); err != nil {
		return notify.Event{}, err
	}
	meta := ticketMetadata(map[string]any{"refunded": pos.BuyerPaid, "seller_reversed": taken, "seller_owed": pos.SellerReceived - taken})
	if err := s.audit.Write(ctx, q, "ticket", ticket.ID, actor.AuditID(), "cancel_sale", ticket.Status, next, meta); err != nil {
		return notify.Event{}, err
	}
	if taken < pos.SellerReceived {
		zap.L().Warn("refund reversal clamped at seller balance",
			zap.String("ticket_id", ticket.ID.String()),
			zap.Int64("owed", pos.SellerReceived),
			zap.Int64("reversed", taken),
		)
	}
	return ticketEvent(notify.KindTicketCancelled, ticket, ticket.BuyerID, pos.BuyerPaid, "sale cancelled and refunded"), nil
}

// DeliverCode lets the seller (or an admin) attach the ticket code. On a held
// ticket this is what the delivered-hold sweep settles on.
func (s *SettlementService) DeliverCode(ctx context.Context, actor models.Actor, ticketID uuid.UUID, code string) (*SettlementResult, error) {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > maxTicketCodeLength {
		return nil, domain.Validationf("ticket code must be 1-%d characters", maxTicketCodeLength)
	}
	var result *SettlementResult
	err := s.units.run(ctx, "deliver_code", func(q repository.Querier) ([]notify.Event, error) {
		ticket, err := lockTicket(ctx, q, ticketID)
		if err != nil {
			return nil, err
		}
		if ticket.SellerID != actor.ID && !actor.IsAdmin {
			return nil, domain.ErrForbidden
		}
		if domain.IsTerminalTicketStatus(ticket.Status) {
			return nil, &domain.TransitionError{From: ticket.Status, Event: "deliver_code"}
		}
		upd := repository.TicketUpdate(ticket, ticket.Status)
		upd.TicketCode = &code
		if err := saveTicket(ctx, q, upd); err != nil {
			return nil, err
		}
		if err := s.audit.Write(ctx, q, "ticket", ticket.ID, actor.AuditID(), "deliver_code", ticket.Status, ticket.Status, nil); err != nil {
			return nil, err
		}
		result = &SettlementResult{TicketID: ticket.ID, Status: ticket.Status, Message: "ticket code saved"}
		if ticket.Status != domain.TicketStatusOnHold {
			return nil, nil
		}
		return []notify.Event{ticketEvent(notify.KindTicketCodeReady, ticket, ticket.BuyerID, 0, "your ticket code is ready")}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Moderate approves or rejects a listing. Admin only.
func (s *SettlementService) Moderate(ctx context.Context, actor models.Actor, ticketID uuid.UUID, approve bool) (*SettlementResult, error) {
	if !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	event := domain.EventReject
	if approve {
		event = domain.EventApprove
	}
	var result *SettlementResult
	err := s.units.run(ctx, "moderate", func(q repository.Querier) ([]notify.Event, error) {
		ticket, err := lockTicket(ctx, q, ticketID)
		if err != nil {
			return nil, err
		}
		next, err := domain.NextTicketStatus(ticket.Status, event)
		if err != nil {
			return nil, err
		}
		if err := saveTicket(ctx, q, repository.TicketUpdate(ticket, next)); err != nil {
			return nil, err
		}
		if err := s.audit.Write(ctx, q, "ticket", ticket.ID, actor.AuditID(), event, ticket.Status, next, nil); err != nil {
			return nil, err
		}
		result = &SettlementResult{TicketID: ticket.ID, Status: next, Message: "listing " + next}
		return []notify.Event{ticketEvent(notify.KindTicketModerated, ticket, nil, 0, "listing "+next)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetTicket reads a ticket without locking it.
func (s *SettlementService) GetTicket(ctx context.Context, ticketID uuid.UUID) (models.Ticket, error) {
	ticket, err := s.store.Queries().GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return models.Ticket{}, domain.ErrTicketNotFound
		}
		return models.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return ticket, nil
}

// RevealCode hands the delivered code to the ticket's holder while the hold
// is active or after the sale. Admins may read any code.
func (s *SettlementService) RevealCode(ctx context.Context, actor models.Actor, ticketID uuid.UUID) (*CodeResult, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	isHolder := ticket.BuyerID != nil && *ticket.BuyerID == actor.ID &&
		(ticket.Status == domain.TicketStatusOnHold || ticket.Status == domain.TicketStatusSold)
	if !isHolder && !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	if !ticket.HasCode() {
		return nil, ErrCodeNotDelivered
	}
	return &CodeResult{TicketID: ticket.ID, Status: ticket.Status, TicketCode: *ticket.TicketCode}, nil
}

// SettleDeliveredHolds sells on_hold tickets whose seller already attached
// the code. Safe to re-run: a ticket already settled is skipped.
func (s *SettlementService) SettleDeliveredHolds(ctx context.Context) (*BatchResult, error) {
	ids, err := s.store.Queries().ListDeliveredHolds(ctx, s.cfg.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("list delivered holds: %w", err)
	}
	report := &BatchResult{Items: []ItemResult{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := s.units.run(ctx, "settle_delivered", func(q repository.Querier) ([]notify.Event, error) {
			ticket, err := lockTicket(ctx, q, id)
			if err != nil {
				return nil, err
			}
			if ticket.Status != domain.TicketStatusOnHold || ticket.SellerSettledAt != nil || !ticket.HasCode() {
				return nil, errSkip
			}
			ev, err := s.settleHold(ctx, q, ticket, models.SystemActor(), "auto_settle_delivered")
			if err != nil {
				return nil, err
			}
			return []notify.Event{ev}, nil
		})
		switch {
		case errors.Is(err, errSkip):
			report.add(id, "skipped", nil)
		case err != nil:
			report.add(id, "", err)
		default:
			report.add(id, domain.TicketStatusSold, nil)
		}
	}
	return report, nil
}

// ReleaseExpiredHolds returns holds older than the hold window to approved.
// Holds whose code already arrived are left for SettleDeliveredHolds.
func (s *SettlementService) ReleaseExpiredHolds(ctx context.Context) (*BatchResult, error) {
	cutoff := s.now().Add(-s.cfg.HoldWindow)
	ids, err := s.store.Queries().ListHoldsOlderThan(ctx, repository.ListHoldsOlderThanParams{Before: cutoff, Limit: s.cfg.SweepBatch})
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	report := &BatchResult{Items: []ItemResult{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := s.units.run(ctx, "release_expired_hold", func(q repository.Querier) ([]notify.Event, error) {
			ticket, err := lockTicket(ctx, q, id)
			if err != nil {
				return nil, err
			}
			if ticket.Status != domain.TicketStatusOnHold || ticket.HasCode() || !domain.HoldExpired(ticket.OnHoldAt, s.now(), s.cfg.HoldWindow) {
				return nil, errSkip
			}
			ev, err := s.releaseHold(ctx, q, ticket, models.SystemActor(), "hold_expired")
			if err != nil {
				return nil, err
			}
			return []notify.Event{ev}, nil
		})
		switch {
		case errors.Is(err, errSkip):
			report.add(id, "skipped", nil)
		case err != nil:
			report.add(id, "", err)
		default:
			report.add(id, domain.TicketStatusApproved, nil)
		}
	}
	return report, nil
}

// ExpireListings closes approved listings past their expiry date.
func (s *SettlementService) ExpireListings(ctx context.Context) (*BatchResult, error) {
	ids, err := s.store.Queries().ListExpiredListings(ctx, repository.ListExpiredListingsParams{Now: s.now(), Limit: s.cfg.SweepBatch})
	if err != nil {
		return nil, fmt.Errorf("list expired listings: %w", err)
	}
	report := &BatchResult{Items: []ItemResult{}}
	for _, id := range ids {
		err := s.units.run(ctx, "expire_listing", func(q repository.Querier) ([]notify.Event, error) {
			ticket, err := lockTicket(ctx, q, id)
			if err != nil {
				return nil, err
			}
			if ticket.Status != domain.TicketStatusApproved || ticket.ExpireAt == nil || s.now().Before(*ticket.ExpireAt) {
				return nil, errSkip
			}
			next, err := domain.NextTicketStatus(ticket.Status, domain.EventExpireListing)
			if err != nil {
				return nil, err
			}
			if err := saveTicket(ctx, q, repository.TicketUpdate(ticket, next)); err != nil {
				return nil, err
			}
			if err := s.audit.Write(ctx, q, "ticket", ticket.ID, nil, domain.EventExpireListing, ticket.Status, next, nil); err != nil {
				return nil, err
			}
			return []notify.Event{ticketEvent(notify.KindTicketExpired, ticket, nil, 0, "listing expired")}, nil
		})
		switch {
		case errors.Is(err, errSkip):
			report.add(id, "skipped", nil)
		case err != nil:
			report.add(id, "", err)
		default:
			report.add(id, domain.TicketStatusExpired, nil)
		}
	}
	return report, nil
}
