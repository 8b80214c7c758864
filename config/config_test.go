package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeEnv(t, "TELEGRAM_BOT_TOKEN=abc\nDB_URL=postgres://x\nADMIN_IDS=1, 2\nVERIFY_SECRET=s\nNOTIFY_TIMEOUT=2s\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "abc", cfg.TelegramBotToken)
	assert.Equal(t, 2*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)

	ids, err := cfg.AdminIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	mins, err := cfg.WithdrawalMinimums()
	require.NoError(t, err)
	assert.Equal(t, "10", mins["upi"].String())
	assert.Equal(t, "1", mins["gateway"].String())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeEnv(t, "MIN_WITHDRAWAL_UPI=10\n")
	t.Setenv("MIN_WITHDRAWAL_UPI", "25")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	mins, err := cfg.WithdrawalMinimums()
	require.NoError(t, err)
	assert.Equal(t, "25", mins["upi"].String())
}

func TestValidateReportsMissingKeys(t *testing.T) {
	err := Config{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "VERIFY_SECRET")
}

func TestAdminIDsRejectsGarbage(t *testing.T) {
	_, err := Config{AdminIDsRaw: "1,abc"}.AdminIDs()
	assert.Error(t, err)
}
