package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
)

var (
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrDepositPayloadMismatch = errors.New("deposit payload does not match existing reference")
)

// Webhook payment statuses.
const (
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// WebhookService handles payment confirmations pushed by the gateway.
type WebhookService struct {
	wallets *WalletService
	hmacKey []byte
	skipSig bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(wallets *WalletService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		wallets: wallets,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
	}
}

// PaymentWebhookPayload is the body the gateway posts.
type PaymentWebhookPayload struct {
	TransactionReference string `json:"transaction_reference"`
	Amount               int64  `json:"amount"`
	Status               string `json:"status"`
}

// PaymentWebhookResponse is returned to the gateway.
type PaymentWebhookResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// HandlePaymentWebhook verifies the HMAC signature and resolves the pending
// deposit the payload refers to. Replays of an already resolved deposit are
// acknowledged without touching the wallet.
func (s *WebhookService) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (*PaymentWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var body PaymentWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.Validationf("invalid payload: %v", err)
	}
	body.TransactionReference = strings.TrimSpace(body.TransactionReference)
	body.Status = strings.ToLower(strings.TrimSpace(body.Status))

	if body.TransactionReference == "" {
		return nil, domain.Validationf("transaction_reference is required")
	}
	if body.Amount <= 0 {
		return nil, domain.Validationf("invalid amount: %d", body.Amount)
	}

	var succeeded bool
	switch body.Status {
	case PaymentStatusSuccess, "succeeded", domain.TxStatusCompleted:
		succeeded = true
	case PaymentStatusFailed:
		succeeded = false
	default:
		return nil, domain.Validationf("unsupported status %q", body.Status)
	}

	out, err := s.wallets.ResolveDeposit(ctx, models.SystemActor(), body.TransactionReference, body.Amount, succeeded, "webhook_"+body.Status)
	if err != nil {
		return nil, fmt.Errorf("resolve deposit %s: %w", body.TransactionReference, err)
	}
	return &PaymentWebhookResponse{
		TransactionID: out.TransactionID.String(),
		Status:        out.Status,
		Message:       out.Message,
	}, nil
}

// Sign returns the signature header value for payload.
func Sign(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}
	// hmac.Equal compares in constant time
	return hmac.Equal([]byte(signature), []byte(Sign(s.hmacKey, payload)))
}
