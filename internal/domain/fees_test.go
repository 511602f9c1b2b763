package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeePolicy_Quote(t *testing.T) {
	q, err := DefaultFeePolicy().Quote(100_000)
	require.NoError(t, err)

	assert.Equal(t, int64(7_000), q.BuyerFee)
	assert.Equal(t, int64(107_000), q.BuyerTotal)
	assert.Equal(t, int64(93_000), q.SellerNet)
	assert.Equal(t, int64(14_000), q.PlatformFee)
}

func TestFeePolicy_Quote_RoundsHalfUp(t *testing.T) {
	// 50 * 0.07 = 3.5 -> 4, 50 * 0.93 = 46.5 -> 47
	q, err := DefaultFeePolicy().Quote(50)
	require.NoError(t, err)
	assert.Equal(t, int64(4), q.BuyerFee)
	assert.Equal(t, int64(54), q.BuyerTotal)
	assert.Equal(t, int64(47), q.SellerNet)

	// 7 * 0.07 = 0.49 -> 0
	q, err = DefaultFeePolicy().Quote(7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.BuyerFee)
	assert.Equal(t, int64(7), q.SellerNet)
}

func TestFeePolicy_Quote_Zero(t *testing.T) {
	q, err := DefaultFeePolicy().Quote(0)
	require.NoError(t, err)
	assert.Equal(t, Quote{}, q)
}

func TestFeePolicy_Quote_RejectsNegative(t *testing.T) {
	_, err := DefaultFeePolicy().Quote(-1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestNewFeePolicy(t *testing.T) {
	p, err := NewFeePolicy("0.05", "0.95")
	require.NoError(t, err)
	q, err := p.Quote(200_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), q.BuyerFee)
	assert.Equal(t, int64(190_000), q.SellerNet)

	_, err = NewFeePolicy("1.5", "0.93")
	assert.Error(t, err)
	_, err = NewFeePolicy("0.07", "-0.1")
	assert.Error(t, err)
	_, err = NewFeePolicy("abc", "0.93")
	assert.Error(t, err)
}

func TestInsufficientFundsError(t *testing.T) {
	err := error(&InsufficientFundsError{Required: 107_000, Available: 106_999})
	assert.True(t, errors.Is(err, ErrInsufficientFunds))

	var ife *InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, int64(1), ife.Shortfall())
}

func TestFormatVND(t *testing.T) {
	assert.Equal(t, "107000 VND", FormatVND(107_000))
}
