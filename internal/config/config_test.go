package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "_upload_id", cfg.UploadPropertyName)
	assert.True(t, cfg.CommissionFee.Equal(decimal.RequireFromString("0.50")))
	assert.Equal(t, CancelPolicyRetain, cfg.CancelPolicy)
	assert.Equal(t, 5*time.Second, cfg.FlowPollInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("COMMISSION_FIXED_FEE", "1.25")
	t.Setenv("COMMISSION_CANCEL_POLICY", "void")
	t.Setenv("FLOW_BASE_BACKOFF_SEC", "0")
	t.Setenv("INTAKE_RATE_WINDOW_SEC", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "1.25", cfg.CommissionFee.StringFixed(2))
	assert.Equal(t, CancelPolicyVoid, cfg.CancelPolicy)
	assert.Equal(t, time.Duration(0), cfg.FlowBaseBackoff)
	assert.Equal(t, 10*time.Second, cfg.IntakeRateWindow)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"negative fee":   {"COMMISSION_FIXED_FEE", "-1"},
		"bad fee":        {"COMMISSION_FIXED_FEE", "abc"},
		"bad policy":     {"COMMISSION_CANCEL_POLICY", "refund"},
		"bad driver":     {"DB_DRIVER", "mysql"},
		"zero poll":      {"FLOW_POLL_INTERVAL_SEC", "0"},
		"bad redis db":   {"REDIS_DB", "x"},
		"zero batch":     {"FLOW_BATCH_SIZE", "0"},
		"zero ratelimit": {"INTAKE_RATE_LIMIT", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ADMIN_JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ADMIN_JWT_SECRET", "s3cret")
	_, err = Load()
	assert.NoError(t, err)
}

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(AppConfig{LogLevel: "debug"})
	assert.Equal(t, "debug", logger.GetLevel().String())

	logger = NewLogger(AppConfig{LogLevel: "nonsense"})
	assert.Equal(t, "info", logger.GetLevel().String())
}
