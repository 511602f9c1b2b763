package handler

import (
	"context"
	"net/http"

	"github.com/so2vaso3-web/passve-sub001/internal/service"
)

// AdminHandler triggers the settlement sweeps on demand and exposes the
// ledger reconciliation report.
type AdminHandler struct {
	settlement     *service.SettlementService
	reconciliation *service.ReconciliationService
}

func NewAdminHandler(settlement *service.SettlementService, reconciliation *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{settlement: settlement, reconciliation: reconciliation}
}

// SettleDelivered handles POST /v1/admin/sweeps/settle-delivered
func (h *AdminHandler) SettleDelivered(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, h.settlement.SettleDeliveredHolds)
}

// ReleaseHolds handles POST /v1/admin/sweeps/release-holds
func (h *AdminHandler) ReleaseHolds(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, h.settlement.ReleaseExpiredHolds)
}

// ExpireListings handles POST /v1/admin/sweeps/expire-listings
func (h *AdminHandler) ExpireListings(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, h.settlement.ExpireListings)
}

func (h *AdminHandler) sweep(w http.ResponseWriter, r *http.Request, run func(context.Context) (*service.BatchResult, error)) {
	report, err := run(r.Context())
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// Reconciliation handles GET /v1/admin/reconciliation
// An imbalanced ledger is still a 200; the report says what drifted.
func (h *AdminHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliation.Run(r.Context())
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
