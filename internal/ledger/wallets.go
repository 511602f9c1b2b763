// Package ledger holds the wallet primitives and the transaction recorder.
// Everything here takes a transaction-bound repository.Querier; callers own
// the unit of work.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/models"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
)

// PlatformID is the account that collects fees. Its balance is the sum of its
// platform_fee entries and may run negative when a refund reverses more than
// the sale earned.
var PlatformID = uuid.MustParse(domain.PlatformAccountID)

// Lock creates missing wallets and row-locks all of them in ascending id
// order, so two units touching the same pair never deadlock.
func Lock(ctx context.Context, q repository.Querier, userIDs ...uuid.UUID) (map[uuid.UUID]models.Wallet, error) {
	ids := uniqueSorted(userIDs)
	wallets := make(map[uuid.UUID]models.Wallet, len(ids))
	for _, id := range ids {
		if err := q.EnsureWallet(ctx, id); err != nil {
			return nil, fmt.Errorf("ensure wallet %s: %w", id, err)
		}
		w, err := q.GetWalletForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock wallet %s: %w", id, err)
		}
		wallets[id] = w
	}
	return wallets, nil
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func checkAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidAmount, amount)
	}
	return nil
}

// Credit adds amount to balance.
func Credit(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return applyBalance(ctx, q, userID, amount)
}

// Debit removes amount from balance, failing with InsufficientFundsError when
// the balance would go negative.
func Debit(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return applyBalance(ctx, q, userID, -amount)
}

// CreditEscrow adds amount to escrow.
func CreditEscrow(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return applyEscrow(ctx, q, userID, amount)
}

// DebitEscrow removes amount from escrow.
func DebitEscrow(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return applyEscrow(ctx, q, userID, -amount)
}

// MoveToEscrow shifts amount from balance into escrow on the same wallet.
func MoveToEscrow(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) error {
	if err := Debit(ctx, q, userID, amount); err != nil {
		return err
	}
	return CreditEscrow(ctx, q, userID, amount)
}

// ReleaseFromEscrow shifts amount from escrow back into balance.
func ReleaseFromEscrow(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) error {
	if err := DebitEscrow(ctx, q, userID, amount); err != nil {
		return err
	}
	return Credit(ctx, q, userID, amount)
}

// AddEarned raises totalEarned.
func AddEarned(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	rows, err := q.AddWalletEarned(ctx, repository.AddWalletEarnedParams{UserID: userID, Delta: amount})
	if err != nil {
		return fmt.Errorf("add earned: %w", err)
	}
	return requireExactlyOne(rows, "add earned")
}

// DebitClamped removes up to amount from balance and returns what was taken.
// Refund reversals use it so a seller who already withdrew is zeroed rather
// than pushed negative.
func DebitClamped(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) (int64, error) {
	if err := checkAmount(amount); err != nil {
		return 0, err
	}
	w, err := q.GetWalletForUpdate(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("lock wallet %s: %w", userID, err)
	}
	applied := min(amount, w.Balance)
	if applied <= 0 {
		return 0, nil
	}
	if err := applyBalance(ctx, q, userID, -applied); err != nil {
		return 0, err
	}
	return applied, nil
}

// SubEarnedClamped lowers totalEarned by up to amount.
func SubEarnedClamped(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64) (int64, error) {
	if err := checkAmount(amount); err != nil {
		return 0, err
	}
	w, err := q.GetWalletForUpdate(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("lock wallet %s: %w", userID, err)
	}
	applied := min(amount, w.TotalEarned)
	if applied <= 0 {
		return 0, nil
	}
	rows, err := q.AddWalletEarned(ctx, repository.AddWalletEarnedParams{UserID: userID, Delta: -applied})
	if err != nil {
		return 0, fmt.Errorf("reduce earned: %w", err)
	}
	if err := requireExactlyOne(rows, "reduce earned"); err != nil {
		return 0, err
	}
	return applied, nil
}

func applyBalance(ctx context.Context, q repository.Querier, userID uuid.UUID, delta int64) error {
	rows, err := q.AddWalletBalance(ctx, repository.AddWalletBalanceParams{UserID: userID, Delta: delta})
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if rows == 1 {
		return nil
	}
	return shortfall(ctx, q, userID, -delta, func(w models.Wallet) int64 { return w.Balance })
}

func applyEscrow(ctx context.Context, q repository.Querier, userID uuid.UUID, delta int64) error {
	rows, err := q.AddWalletEscrow(ctx, repository.AddWalletEscrowParams{UserID: userID, Delta: delta})
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	if rows == 1 {
		return nil
	}
	return shortfall(ctx, q, userID, -delta, func(w models.Wallet) int64 { return w.Escrow })
}

// shortfall explains a guarded update that matched no row.
func shortfall(ctx context.Context, q repository.Querier, userID uuid.UUID, required int64, field func(models.Wallet) int64) error {
	w, err := q.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return fmt.Errorf("wallet %s: %w", userID, domain.ErrNotFound)
		}
		return fmt.Errorf("load wallet %s: %w", userID, err)
	}
	if required <= 0 {
		return fmt.Errorf("update wallet %s affected 0 rows", userID)
	}
	return &domain.InsufficientFundsError{Required: required, Available: field(w)}
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}
