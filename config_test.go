package valuation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valuation.yaml")
	content := `
reporting_currency: EUR
database_path: /var/lib/valuation/metrics.db
fx:
  base_url: https://rates.example.com/v1
  attempts: 5
  initial_delay: 250ms
  timeout: 4s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.ReportingCurrency)
	assert.Equal(t, "/var/lib/valuation/metrics.db", cfg.DatabasePath)
	assert.Equal(t, "https://rates.example.com/v1", cfg.FX.BaseURL)
	assert.Equal(t, 5, cfg.FX.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.FX.InitialDelay)
	assert.Equal(t, 4*time.Second, cfg.FX.Timeout)
}

func TestLoadConfig_DefaultsFillGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valuation.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reporting_currency: USD\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.ReportingCurrency)
	assert.Equal(t, DefaultConfig().DatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultConfig().FX.Attempts, cfg.FX.Attempts)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ReportingCurrency = "NOPE"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DatabasePath = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
