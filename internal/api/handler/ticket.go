package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
)

// TicketHandler exposes the settlement operations on a single ticket.
type TicketHandler struct {
	settlement *service.SettlementService
	wallets    *service.WalletService
}

func NewTicketHandler(settlement *service.SettlementService, wallets *service.WalletService) *TicketHandler {
	return &TicketHandler{settlement: settlement, wallets: wallets}
}

type ticketView struct {
	models.Ticket
	HasCode bool `json:"has_code"`
}

// Get handles GET /v1/tickets/{id}
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	ticket, err := h.settlement.GetTicket(r.Context(), ticketID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, ticketView{Ticket: ticket, HasCode: ticket.HasCode()})
}

// Buy handles POST /v1/tickets/{id}/buy
// A ticket with a delivered code sells instantly (200); otherwise the ticket
// is held for the buyer (202).
func (h *TicketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.withTicket(w, r, func(actor models.Actor, ticketID uuid.UUID) (any, int, error) {
		res, err := h.settlement.Buy(r.Context(), actor, ticketID)
		if err != nil {
			return nil, 0, err
		}
		status := http.StatusOK
		if res.HoldExpiresAt != nil {
			status = http.StatusAccepted
		}
		return res, status, nil
	})
}

// Confirm handles POST /v1/tickets/{id}/confirm
func (h *TicketHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.withTicket(w, r, func(actor models.Actor, ticketID uuid.UUID) (any, int, error) {
		res, err := h.settlement.ConfirmDelivery(r.Context(), actor, ticketID)
		return res, http.StatusOK, err
	})
}

// Cancel handles POST /v1/tickets/{id}/cancel and its admin twin.
func (h *TicketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withTicket(w, r, func(actor models.Actor, ticketID uuid.UUID) (any, int, error) {
		res, err := h.settlement.Cancel(r.Context(), actor, ticketID)
		return res, http.StatusOK, err
	})
}

// ForceSell handles POST /v1/admin/tickets/{id}/force-sell
// It settles a held ticket to the seller as if the buyer confirmed.
func (h *TicketHandler) ForceSell(w http.ResponseWriter, r *http.Request) {
	h.Confirm(w, r)
}

type deliverCodeRequest struct {
	Code string `json:"code"`
}

// DeliverCode handles POST /v1/tickets/{id}/code
func (h *TicketHandler) DeliverCode(w http.ResponseWriter, r *http.Request) {
	var req deliverCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.withTicket(w, r, func(actor models.Actor, ticketID uuid.UUID) (any, int, error) {
		res, err := h.settlement.DeliverCode(r.Context(), actor, ticketID, req.Code)
		return res, http.StatusOK, err
	})
}

// Code handles GET /v1/tickets/{id}/code
// Only the holder or an admin may read a delivered code.
func (h *TicketHandler) Code(w http.ResponseWriter, r *http.Request) {
	h.withTicket(w, r, func(actor models.Actor, ticketID uuid.UUID) (any, int, error) {
		res, err := h.settlement.RevealCode(r.Context(), actor, ticketID)
		return res, http.StatusOK, err
	})
}

type moderateRequest struct {
	Decision string `json:"decision"`
}

// Moderate handles POST /v1/admin/tickets/{id}/moderate
func (h *TicketHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Decision != "approve" && req.Decision != "reject" {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-decision", "decision must be approve or reject")
		return
	}
	h.withTicket(w, r, func(actor models.Actor, ticketID uuid.UUID) (any, int, error) {
		res, err := h.settlement.Moderate(r.Context(), actor, ticketID, req.Decision == "approve")
		return res, http.StatusOK, err
	})
}

// Transactions handles GET /v1/tickets/{id}/transactions
func (h *TicketHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	h.withTicket(w, r, func(actor models.Actor, ticketID uuid.UUID) (any, int, error) {
		entries, err := h.wallets.TicketTransactions(r.Context(), actor, ticketID)
		if err != nil {
			return nil, 0, err
		}
		return map[string]any{"ticket_id": ticketID, "transactions": entries}, http.StatusOK, nil
	})
}

func (h *TicketHandler) withTicket(w http.ResponseWriter, r *http.Request, fn func(actor models.Actor, ticketID uuid.UUID) (any, int, error)) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	ticketID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	body, status, err := fn(actor, ticketID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, status, body)
}
