package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	DefaultBuyerFeeRate  = decimal.RequireFromString("0.07")
	DefaultSellerNetRate = decimal.RequireFromString("0.93")
)

// FeePolicy converts a listing price into what the buyer pays and what the
// seller receives. Amounts are integer currency units (VND has no minor unit).
type FeePolicy struct {
	BuyerFeeRate  decimal.Decimal
	SellerNetRate decimal.Decimal
}

// Quote is the full fee breakdown for one sale.
type Quote struct {
	SellingPrice int64 `json:"selling_price"`
	BuyerFee     int64 `json:"buyer_fee"`
	BuyerTotal   int64 `json:"buyer_total"`
	SellerNet    int64 `json:"seller_net"`
	PlatformFee  int64 `json:"platform_fee"`
}

// DefaultFeePolicy is the 7% buyer fee / 93% seller payout policy.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{BuyerFeeRate: DefaultBuyerFeeRate, SellerNetRate: DefaultSellerNetRate}
}

// NewFeePolicy parses rates such as "0.07" and rejects anything outside [0, 1].
func NewFeePolicy(buyerFeeRate, sellerNetRate string) (FeePolicy, error) {
	buyer, err := decimal.NewFromString(buyerFeeRate)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("parse buyer fee rate: %w", err)
	}
	seller, err := decimal.NewFromString(sellerNetRate)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("parse seller net rate: %w", err)
	}
	one := decimal.NewFromInt(1)
	if buyer.IsNegative() || buyer.GreaterThan(one) {
		return FeePolicy{}, fmt.Errorf("buyer fee rate %s out of range", buyer)
	}
	if seller.IsNegative() || seller.GreaterThan(one) {
		return FeePolicy{}, fmt.Errorf("seller net rate %s out of range", seller)
	}
	return FeePolicy{BuyerFeeRate: buyer, SellerNetRate: seller}, nil
}

// Quote computes the fee breakdown for sellingPrice. Rounding is half-up.
func (p FeePolicy) Quote(sellingPrice int64) (Quote, error) {
	if sellingPrice < 0 {
		return Quote{}, fmt.Errorf("%w: selling price %d", ErrInvalidAmount, sellingPrice)
	}
	price := decimal.NewFromInt(sellingPrice)
	buyerFee := roundHalfUp(price.Mul(p.BuyerFeeRate))
	sellerNet := roundHalfUp(price.Mul(p.SellerNetRate))
	buyerTotal := sellingPrice + buyerFee
	return Quote{
		SellingPrice: sellingPrice,
		BuyerFee:     buyerFee,
		BuyerTotal:   buyerTotal,
		SellerNet:    sellerNet,
		PlatformFee:  buyerTotal - sellerNet,
	}, nil
}

// decimal.Round is half away from zero, i.e. half-up for non-negative input.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// FormatVND renders an amount the way receipts and notifications show it.
func FormatVND(amount int64) string {
	return decimal.NewFromInt(amount).StringFixed(0) + " VND"
}
