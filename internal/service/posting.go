package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/ledger"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
)

var errUnbalancedPosting = errors.New("unbalanced posting")

// posting applies wallet mutations and collects the matching transaction
// entries, so an effect can never be applied without its record. Zero
// amounts are skipped on both sides.
type posting struct {
	ctx      context.Context
	q        repository.Querier
	ticketID *uuid.UUID
	entries  []ledger.Entry
}

func newPosting(ctx context.Context, q repository.Querier, ticketID *uuid.UUID) *posting {
	return &posting{ctx: ctx, q: q, ticketID: ticketID}
}

func (p *posting) add(userID uuid.UUID, txType string, amount int64, description string) {
	p.entries = append(p.entries, ledger.Entry{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Status:      domain.TxStatusCompleted,
		Description: description,
		TicketID:    p.ticketID,
	})
}

// balance moves a user's spendable funds by delta.
func (p *posting) balance(userID uuid.UUID, txType string, delta int64, description string) error {
	var err error
	switch {
	case delta > 0:
		err = ledger.Credit(p.ctx, p.q, userID, delta)
	case delta < 0:
		err = ledger.Debit(p.ctx, p.q, userID, -delta)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	p.add(userID, txType, delta, description)
	return nil
}

// balanceClamped takes up to amount from balance and returns what it took.
func (p *posting) balanceClamped(userID uuid.UUID, txType string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	taken, err := ledger.DebitClamped(p.ctx, p.q, userID, amount)
	if err != nil {
		return 0, err
	}
	if taken > 0 {
		p.add(userID, txType, -taken, description)
	}
	return taken, nil
}

func (p *posting) escrow(userID uuid.UUID, txType string, delta int64, description string) error {
	var err error
	switch {
	case delta > 0:
		err = ledger.CreditEscrow(p.ctx, p.q, userID, delta)
	case delta < 0:
		err = ledger.DebitEscrow(p.ctx, p.q, userID, -delta)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	p.add(userID, txType, delta, description)
	return nil
}

// platform books a fee movement for the fee account. Only the entry is
// written: the account's balance is the sum of its entries and its wallet
// row is never updated or locked.
func (p *posting) platform(delta int64, description string) error {
	if delta != 0 {
		p.add(ledger.PlatformID, domain.TxTypePlatformFee, delta, description)
	}
	return nil
}

// commit records the collected entries. A ticket settlement only moves money
// between its parties, so the entries must net to zero.
func (p *posting) commit() ([]models.Transaction, error) {
	if len(p.entries) == 0 {
		return nil, nil
	}
	if net := ledger.Net(p.entries); net != 0 {
		return nil, fmt.Errorf("%w: ticket posting nets %d", errUnbalancedPosting, net)
	}
	return ledger.Record(p.ctx, p.q, p.entries...)
}

// ticketPosition is what a ticket's current buyer and seller hold because of
// it, derived from its recorded entries.
type ticketPosition struct {
	BuyerPaid      int64
	SellerReceived int64
	EscrowHeld     int64
}

func positionOf(entries []models.Transaction, buyerID *uuid.UUID, sellerID uuid.UUID) ticketPosition {
	var pos ticketPosition
	for _, e := range entries {
		if e.Status != domain.TxStatusCompleted {
			continue
		}
		switch {
		case buyerID != nil && e.UserID == *buyerID && (e.Type == domain.TxTypePurchase || e.Type == domain.TxTypeRefund):
			pos.BuyerPaid -= e.Amount
		case e.UserID == sellerID && (e.Type == domain.TxTypeSale || e.Type == domain.TxTypeRefund):
			pos.SellerReceived += e.Amount
		case e.UserID == sellerID && domain.AffectsEscrow(e.Type):
			pos.EscrowHeld += e.Amount
		}
	}
	return pos
}
