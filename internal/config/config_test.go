package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_HMAC_KEY", "hook-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, 15*time.Minute, cfg.HoldWindow)
	assert.Equal(t, 24*time.Hour, cfg.RefundWindow)
	assert.Equal(t, "0.07", cfg.Fees.BuyerFeeRate.String())
	assert.Equal(t, "0.93", cfg.Fees.SellerNetRate.String())
	assert.EqualValues(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, 25*time.Millisecond, cfg.RetryBackoff)
}

func TestLoadPrefixedAlias(t *testing.T) {
	setRequired(t)
	t.Setenv("PASSVE_STORAGE_DRIVER", "Memory")
	t.Setenv("PASSVE_HOLD_WINDOW", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, 30*time.Minute, cfg.HoldWindow)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"short secret":       {"JWT_SECRET": "short"},
		"missing hmac key":   {"WEBHOOK_HMAC_KEY": ""},
		"bad duration":       {"HOLD_WINDOW": "soon"},
		"zero hold window":   {"HOLD_WINDOW": "0s"},
		"unknown driver":     {"STORAGE_DRIVER": "sqlite"},
		"fee out of range":   {"BUYER_FEE_RATE": "1.5"},
		"inverted deposits":  {"MIN_DEPOSIT": "900", "MAX_DEPOSIT": "100"},
		"failure rate above": {"GATEWAY_FAILURE_RATE": "2"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSkippedSignatureNeedsNoKey(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_HMAC_KEY", "")
	t.Setenv("WEBHOOK_SKIP_SIG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.WebhookSkipSignature)
}
