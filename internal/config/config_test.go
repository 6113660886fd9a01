package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadCommission(t *testing.T) {
	cfg := Default()
	cfg.Commission = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMinGreaterThanMax(t *testing.T) {
	cfg := Default()
	cfg.MinSettle = 5
	cfg.MaxSettle = 2
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownStoreDriver(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDSNForSQLite(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = ""
	assert.Error(t, cfg.Validate())

	cfg.Store.DSN = "exchange.db"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsRefreshNotLessThanTTL(t *testing.T) {
	cfg := Default()
	cfg.Leader.TTLSeconds = 10
	cfg.Leader.RefreshSeconds = 10
	assert.Error(t, cfg.Validate())
}

func TestValidateAggregatesMultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Commission = -1
	cfg.CashAsset = ""
	cfg.TickPeriod = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commission")
	assert.Contains(t, err.Error(), "cash_asset")
	assert.Contains(t, err.Error(), "tick_period")
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("MOCKEXCHANGE_CASH_ASSET", "EUR")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
cash_asset: "${MOCKEXCHANGE_CASH_ASSET}"
commission: 0.001
min_settle: 0
max_settle: 2
sigma_fill: 0.1
tick_period: 5
prune_period: 3600
audit_period: 60
stale_age: 86400
expire_age: 86400
store:
  driver: memory
leader:
  ttl_seconds: 15
  refresh_seconds: 5
system:
  log_level: INFO
  health_addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.CashAsset)
}

func TestLoadConfigRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commission: 2.0\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
