package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"RPC_URL", "RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW", "RATE_LIMIT_SPACING", "RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "FUNDED_SLOTS", "DATABASE_URL", "RUN_BUDGET"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://127.0.0.1:26657", cfg.RPCURL)
	assert.Equal(t, 5, cfg.RateLimitMax)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 200*time.Millisecond, cfg.RateLimitSpacing)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 10, cfg.FundedSlots)
	assert.Equal(t, 50*time.Second, cfg.RunBudget)
	assert.True(t, cfg.VerifyAuthority)
	assert.Empty(t, cfg.DBDialect)
}

func TestValidateReportsMalformedValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "five")
	t.Setenv("RETRY_BASE_DELAY", "soon")
	t.Setenv("RPC_URL", "localhost")

	err := Load().Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "RATE_LIMIT_MAX")
	assert.Contains(t, msg, "RETRY_BASE_DELAY")
	assert.Contains(t, msg, "RPC_URL")
}

func TestRequireSigner(t *testing.T) {
	t.Setenv("ADMIN_SEED_BASE64", "")
	assert.Error(t, Load().RequireSigner())

	t.Setenv("ADMIN_SEED_BASE64", "AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA=")
	assert.NoError(t, Load().RequireSigner())
}

func TestDebugStringMasksSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://crank:hunter2@db:5432/crank")
	t.Setenv("API_SECRET_KEY", "topsecret")
	t.Setenv("ADMIN_SEED_BASE64", "AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA=")

	s := Load().DebugString()
	assert.False(t, strings.Contains(s, "hunter2"))
	assert.False(t, strings.Contains(s, "topsecret"))
	assert.False(t, strings.Contains(s, "AQIDBAUG"))
	assert.Contains(t, s, "crank@db:5432")
}

func TestUnsupportedDatabaseSchemeDisablesPersistence(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://u:p@h/db")
	assert.Empty(t, Load().DBDialect)
}
