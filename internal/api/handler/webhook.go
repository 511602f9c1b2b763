package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/so2vaso3-web/passve-sub001/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// WebhookHandler handles incoming webhook events from the payment gateway.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandlePaymentWebhook handles POST /v1/webhooks/payment
// It verifies the HMAC signature and resolves the referenced deposit.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	resp, err := h.webhookSvc.HandlePaymentWebhook(r.Context(), body, signature)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidSignature) {
			zap.L().Warn("process payment webhook failed", zap.Error(err))
		}
		RespondServiceError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
