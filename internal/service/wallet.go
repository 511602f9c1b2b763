package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/gateway"
	"github.com/so2vaso3-web/passve-sub001/internal/ledger"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/notify"
	"github.com/so2vaso3-web/passve-sub001/internal/observability"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
)

var bankAccountRef = regexp.MustCompile(`^[A-Za-z0-9]{6,34}$`)

// WalletConfig bounds user initiated money movement. Zero fields take the
// defaults.
type WalletConfig struct {
	MinDeposit   int64
	MaxDeposit   int64
	MaxRetries   uint64
	RetryBackoff time.Duration
}

func DefaultWalletConfig() WalletConfig {
	return WalletConfig{
		MinDeposit:   10000,
		MaxDeposit:   50000000,
		MaxRetries:   3,
		RetryBackoff: 25 * time.Millisecond,
	}
}

// WalletService handles deposits, withdrawals and admin balance corrections.
type WalletService struct {
	store   QueryStore
	gateway gateway.Gateway
	units   unitRunner
	audit   *AuditService
	cfg     WalletConfig
	now     func() time.Time
}

func NewWalletService(store QueryStore, gw gateway.Gateway, notifier Notifier, cfg WalletConfig) *WalletService {
	def := DefaultWalletConfig()
	if cfg.MinDeposit <= 0 {
		cfg.MinDeposit = def.MinDeposit
	}
	if cfg.MaxDeposit <= 0 {
		cfg.MaxDeposit = def.MaxDeposit
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &WalletService{
		store:   store,
		gateway: gw,
		units:   unitRunner{store: store, notifier: notifier, maxRetries: cfg.MaxRetries, backoff: cfg.RetryBackoff},
		audit:   NewAuditService(),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *WalletService) WithClock(now func() time.Time) *WalletService {
	s.now = now
	return s
}

// DepositResult is returned to the depositing user.
type DepositResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	Reference     string    `json:"reference"`
	CheckoutURL   string    `json:"checkout_url,omitempty"`
	Message       string    `json:"message"`
}

// WithdrawalResult describes a withdrawal request or its resolution.
type WithdrawalResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	Message       string    `json:"message"`
}

func walletEvent(kind string, userID uuid.UUID, amount int64, message string) notify.Event {
	return notify.Event{Kind: kind, UserIDs: []uuid.UUID{userID}, Amount: amount, Message: message}
}

// Deposit records a pending deposit, then opens a gateway checkout for it.
// When the gateway captures synchronously the wallet is credited right away;
// otherwise the webhook or the reconciliation sweep completes it.
func (s *WalletService) Deposit(ctx context.Context, actor models.Actor, amount int64) (*DepositResult, error) {
	if amount < s.cfg.MinDeposit || amount > s.cfg.MaxDeposit {
		return nil, domain.Validationf("deposit must be between %s and %s", domain.FormatVND(s.cfg.MinDeposit), domain.FormatVND(s.cfg.MaxDeposit))
	}
	reference := "DEP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))

	var txID uuid.UUID
	err := s.units.run(ctx, "deposit_create", func(q repository.Querier) ([]notify.Event, error) {
		if _, err := ledger.Lock(ctx, q, actor.ID); err != nil {
			return nil, err
		}
		recorded, err := ledger.Record(ctx, q, ledger.Entry{
			UserID:      actor.ID,
			Type:        domain.TxTypeDeposit,
			Amount:      amount,
			Status:      domain.TxStatusPending,
			Description: "Wallet top-up",
			Reference:   &reference,
		})
		if err != nil {
			return nil, err
		}
		txID = recorded[0].ID
		return nil, s.audit.Write(ctx, q, "transaction", txID, actor.AuditID(), "deposit_created", "", domain.TxStatusPending, nil)
	})
	if err != nil {
		return nil, err
	}

	checkout, err := s.gateway.CreateCheckout(ctx, reference, amount)
	if err != nil {
		zap.L().Warn("gateway checkout failed", zap.String("reference", reference), zap.Error(err))
		if _, failErr := s.ResolveDeposit(ctx, models.SystemActor(), reference, amount, false, "checkout_failed"); failErr != nil {
			zap.L().Error("failed to mark deposit failed", zap.String("reference", reference), zap.Error(failErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	result := &DepositResult{
		TransactionID: txID,
		Status:        domain.TxStatusPending,
		Amount:        amount,
		Reference:     reference,
		CheckoutURL:   checkout.CheckoutURL,
		Message:       "complete the payment to credit your wallet",
	}
	switch checkout.Status {
	case gateway.StatusSucceeded, gateway.StatusFailed:
		resolved, err := s.ResolveDeposit(ctx, models.SystemActor(), reference, amount, checkout.Status == gateway.StatusSucceeded, "gateway_sync")
		if err != nil {
			return nil, err
		}
		result.Status = resolved.Status
		result.Message = resolved.Message
		result.CheckoutURL = ""
	}
	return result, nil
}

// DepositOutcome reports what ResolveDeposit did.
type DepositOutcome struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	Changed       bool      `json:"-"`
}

// ResolveDeposit moves the pending deposit under reference to completed
// (crediting the wallet) or failed. A deposit already resolved is reported
// as-is. An amount that does not match the recorded one is refused and the
// deposit stays pending.
func (s *WalletService) ResolveDeposit(ctx context.Context, actor models.Actor, reference string, amount int64, succeeded bool, action string) (*DepositOutcome, error) {
	var out *DepositOutcome
	err := s.units.run(ctx, "deposit_resolve", func(q repository.Querier) ([]notify.Event, error) {
		out = nil
		tx, err := q.GetTransactionByReferenceForUpdate(ctx, reference)
		if err != nil {
			if errors.Is(err, repository.ErrNoRows) {
				return nil, ErrTransactionNotFound
			}
			return nil, fmt.Errorf("lock deposit: %w", err)
		}
		if tx.Type != domain.TxTypeDeposit {
			return nil, ErrDepositPayloadMismatch
		}
		if tx.Status != domain.TxStatusPending {
			out = &DepositOutcome{TransactionID: tx.ID, Status: tx.Status, Message: "Deposit already processed"}
			return nil, nil
		}
		if amount != tx.Amount {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrDepositPayloadMismatch, tx.Amount, amount)
		}

		meta, _ := json.Marshal(map[string]string{"reference": reference})
		if !succeeded {
			if err := transitionTransactionState(ctx, q, s.audit, tx.ID, domain.TxStatusFailed, actor.AuditID(), action, meta); err != nil {
				return nil, err
			}
			out = &DepositOutcome{TransactionID: tx.ID, Status: domain.TxStatusFailed, Message: "Deposit failed", Changed: true}
			return []notify.Event{walletEvent(notify.KindDepositFailed, tx.UserID, tx.Amount, "deposit failed")}, nil
		}

		if _, err := ledger.Lock(ctx, q, tx.UserID); err != nil {
			return nil, err
		}
		if err := ledger.Credit(ctx, q, tx.UserID, tx.Amount); err != nil {
			return nil, err
		}
		if err := transitionTransactionState(ctx, q, s.audit, tx.ID, domain.TxStatusCompleted, actor.AuditID(), action, meta); err != nil {
			return nil, err
		}
		out = &DepositOutcome{TransactionID: tx.ID, Status: domain.TxStatusCompleted, Message: "Deposit processed successfully", Changed: true}
		return []notify.Event{walletEvent(notify.KindDepositCompleted, tx.UserID, tx.Amount, "deposit of "+domain.FormatVND(tx.Amount)+" received")}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Withdraw reserves amount from the wallet and queues it for admin approval.
func (s *WalletService) Withdraw(ctx context.Context, actor models.Actor, amount int64, bankRef string) (*WithdrawalResult, error) {
	if amount <= 0 {
		return nil, domain.Validationf("amount must be positive")
	}
	bankRef = strings.TrimSpace(bankRef)
	if !bankAccountRef.MatchString(bankRef) {
		return nil, domain.Validationf("bank account reference must be 6-34 letters or digits")
	}

	var result *WithdrawalResult
	err := s.units.run(ctx, "withdraw", func(q repository.Querier) ([]notify.Event, error) {
		if _, err := ledger.Lock(ctx, q, actor.ID); err != nil {
			return nil, err
		}
		if err := ledger.Debit(ctx, q, actor.ID, amount); err != nil {
			return nil, err
		}
		reference := "WDR-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
		meta, _ := json.Marshal(map[string]string{"bank_account_ref": bankRef})
		recorded, err := ledger.Record(ctx, q, ledger.Entry{
			UserID:      actor.ID,
			Type:        domain.TxTypeWithdraw,
			Amount:      -amount,
			Status:      domain.TxStatusPending,
			Description: "Withdrawal to bank account",
			Reference:   &reference,
			Metadata:    meta,
		})
		if err != nil {
			return nil, err
		}
		txID := recorded[0].ID
		if err := s.audit.Write(ctx, q, "transaction", txID, actor.AuditID(), "withdraw_requested", "", domain.TxStatusPending, meta); err != nil {
			return nil, err
		}
		result = &WithdrawalResult{TransactionID: txID, Status: domain.TxStatusPending, Amount: amount, Message: "withdrawal is awaiting approval"}
		return []notify.Event{walletEvent(notify.KindWithdrawRequested, actor.ID, amount, "withdrawal requested")}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApproveWithdrawal marks a reserved withdrawal as paid out.
func (s *WalletService) ApproveWithdrawal(ctx context.Context, actor models.Actor, txID uuid.UUID) (*WithdrawalResult, error) {
	return s.resolveWithdrawal(ctx, actor, txID, true)
}

// RejectWithdrawal fails a reserved withdrawal and returns the funds.
func (s *WalletService) RejectWithdrawal(ctx context.Context, actor models.Actor, txID uuid.UUID) (*WithdrawalResult, error) {
	return s.resolveWithdrawal(ctx, actor, txID, false)
}

func (s *WalletService) resolveWithdrawal(ctx context.Context, actor models.Actor, txID uuid.UUID, approve bool) (*WithdrawalResult, error) {
	if !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	var result *WithdrawalResult
	err := s.units.run(ctx, "withdraw_resolve", func(q repository.Querier) ([]notify.Event, error) {
		tx, err := q.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			if errors.Is(err, repository.ErrNoRows) {
				return nil, ErrTransactionNotFound
			}
			return nil, fmt.Errorf("lock withdrawal: %w", err)
		}
		if tx.Type != domain.TxTypeWithdraw {
			return nil, ErrTransactionNotFound
		}
		if tx.Status != domain.TxStatusPending {
			return nil, fmt.Errorf("%w: withdrawal is %s", domain.ErrInvalidTransition, tx.Status)
		}
		amount := -tx.Amount
		next, action, message := domain.TxStatusCompleted, "withdraw_approved", "withdrawal paid out"
		if !approve {
			next, action, message = domain.TxStatusFailed, "withdraw_rejected", "withdrawal rejected, funds returned"
			if _, err := ledger.Lock(ctx, q, tx.UserID); err != nil {
				return nil, err
			}
			if err := ledger.Credit(ctx, q, tx.UserID, amount); err != nil {
				return nil, err
			}
		}
		if err := transitionTransactionState(ctx, q, s.audit, tx.ID, next, actor.AuditID(), action, nil); err != nil {
			return nil, err
		}
		result = &WithdrawalResult{TransactionID: tx.ID, Status: next, Amount: amount, Message: message}
		return []notify.Event{walletEvent(notify.KindWithdrawResolved, tx.UserID, amount, message)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminAdjustBalance credits or debits a user wallet with an adjustment entry.
func (s *WalletService) AdminAdjustBalance(ctx context.Context, actor models.Actor, userID uuid.UUID, amount int64, direction, reason string) (*models.Wallet, error) {
	if !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	if amount <= 0 {
		return nil, domain.Validationf("amount must be positive")
	}
	if direction != domain.AdjustCredit && direction != domain.AdjustDebit {
		return nil, domain.Validationf("direction must be %q or %q", domain.AdjustCredit, domain.AdjustDebit)
	}
	if userID == ledger.PlatformID {
		return nil, domain.Validationf("platform account cannot be adjusted")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Admin balance adjustment"
	}

	var wallet models.Wallet
	err := s.units.run(ctx, "admin_adjust", func(q repository.Querier) ([]notify.Event, error) {
		if _, err := ledger.Lock(ctx, q, userID); err != nil {
			return nil, err
		}
		delta := amount
		if direction == domain.AdjustDebit {
			delta = -amount
			if err := ledger.Debit(ctx, q, userID, amount); err != nil {
				return nil, err
			}
		} else if err := ledger.Credit(ctx, q, userID, amount); err != nil {
			return nil, err
		}
		meta, _ := json.Marshal(map[string]any{"direction": direction, "amount": amount})
		if _, err := ledger.Record(ctx, q, ledger.Entry{
			UserID:      userID,
			Type:        domain.TxTypeAdjustment,
			Amount:      delta,
			Description: reason,
			Metadata:    meta,
		}); err != nil {
			return nil, err
		}
		if err := s.audit.Write(ctx, q, "wallet", userID, actor.AuditID(), "balance_adjusted", "", direction, meta); err != nil {
			return nil, err
		}
		var err error
		wallet, err = q.GetWallet(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("reload wallet: %w", err)
		}
		return []notify.Event{walletEvent(notify.KindBalanceAdjusted, userID, delta, reason)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ConfirmPendingDeposits polls the gateway for deposits pending longer than
// olderThan and resolves each one in its own unit.
func (s *WalletService) ConfirmPendingDeposits(ctx context.Context, actor models.Actor, olderThan time.Duration, limit int32) (*BatchResult, error) {
	if !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	pending, err := s.store.Queries().ListPendingTransactions(ctx, repository.ListPendingTransactionsParams{
		Type:          domain.TxTypeDeposit,
		CreatedBefore: s.now().Add(-olderThan),
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	observability.SetPendingDeposits(len(pending))

	report := &BatchResult{Items: []ItemResult{}}
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if tx.Reference == nil {
			report.add(tx.ID, "", errors.New("deposit has no gateway reference"))
			continue
		}
		status, err := s.gateway.PaymentStatus(ctx, *tx.Reference)
		if err != nil {
			report.add(tx.ID, "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
			continue
		}
		if status != gateway.StatusSucceeded && status != gateway.StatusFailed {
			report.add(tx.ID, "skipped", nil)
			continue
		}
		out, err := s.ResolveDeposit(ctx, actor, *tx.Reference, tx.Amount, status == gateway.StatusSucceeded, "deposit_reconciled")
		switch {
		case err != nil:
			report.add(tx.ID, "", err)
		case !out.Changed:
			report.add(tx.ID, "skipped", nil)
		default:
			report.add(tx.ID, out.Status, nil)
		}
	}
	return report, nil
}

// GetWallet returns the user's wallet; a user who never transacted has an
// empty one.
func (s *WalletService) GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	w, err := s.store.Queries().GetWallet(ctx, userID)
	if errors.Is(err, repository.ErrNoRows) {
		return models.Wallet{UserID: userID, Kind: domain.WalletKindUser}, nil
	}
	if err != nil {
		return models.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (s *WalletService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Transaction, error) {
	return ledger.NewReader(s.store.Queries()).ListByUser(ctx, userID, limit, offset)
}

// TicketTransactions lists a ticket's entries for its seller, its buyer or
// an admin.
func (s *WalletService) TicketTransactions(ctx context.Context, actor models.Actor, ticketID uuid.UUID) ([]models.Transaction, error) {
	q := s.store.Queries()
	ticket, err := q.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	isParty := ticket.SellerID == actor.ID || (ticket.BuyerID != nil && *ticket.BuyerID == actor.ID)
	if !isParty && !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	entries, err := ledger.NewReader(q).FindByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin {
		return entries, nil
	}
	own := entries[:0:0]
	for _, e := range entries {
		if e.UserID == actor.ID {
			own = append(own, e)
		}
	}
	return own, nil
}
