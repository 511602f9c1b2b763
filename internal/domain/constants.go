package domain

import "time"

// Platform revenue account (must match migration 00001).
const (
	PlatformAccountID = "00000000-0000-0000-0000-000000000001"

	WalletKindUser     = "user"
	WalletKindPlatform = "platform"

	TxTypeDeposit       = "deposit"
	TxTypeWithdraw      = "withdraw"
	TxTypePurchase      = "purchase"
	TxTypeSale          = "sale"
	TxTypeEscrowHold    = "escrow_hold"
	TxTypeEscrowRelease = "escrow_release"
	TxTypeRefund        = "refund"
	TxTypeAdjustment    = "adjustment"
	TxTypePlatformFee   = "platform_fee"

	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"

	RoleUser  = "user"
	RoleAdmin = "admin"

	AdjustCredit = "credit"
	AdjustDebit  = "debit"
)

const (
	DefaultHoldWindow   = 15 * time.Minute
	DefaultRefundWindow = 24 * time.Hour
)

// EscrowTypes are the transaction types whose amount applies to wallet escrow
// rather than balance.
var EscrowTypes = map[string]struct{}{
	TxTypeEscrowHold:    {},
	TxTypeEscrowRelease: {},
}

// AffectsEscrow reports whether entries of txType move escrow.
func AffectsEscrow(txType string) bool {
	_, ok := EscrowTypes[txType]
	return ok
}
