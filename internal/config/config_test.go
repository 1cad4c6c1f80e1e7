package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "PKR", cfg.Ledger.Currency)
	assert.Equal(t, "cash", cfg.Ledger.CashCode)
	assert.Equal(t, "Cash", cfg.Ledger.LegacyMarker)
	assert.Equal(t, int64(8), cfg.Tx.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Tx.MaxWait)
	assert.Equal(t, 20*time.Second, cfg.Tx.Timeout)
	assert.Equal(t, 4, cfg.Reconcile.Parallelism)
	assert.Equal(t, "@every 6h", cfg.Reconcile.Cron)
	assert.Empty(t, cfg.DB.URL)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_CURRENCY=usd\nTX_TIMEOUT=3s\nCASH_ACCOUNT_CODE=galla\n"), 0o600))
	t.Setenv("CASH_ACCOUNT_CODE", "drawer")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.Equal(t, 3*time.Second, cfg.Tx.Timeout)
	assert.Equal(t, "drawer", cfg.Ledger.CashCode, "process env wins over the file")

	// godotenv exports into the process env; undo for later tests.
	require.NoError(t, os.Unsetenv("LEDGER_CURRENCY"))
	require.NoError(t, os.Unsetenv("TX_TIMEOUT"))
}

func TestLoad_Rejects(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TX_MAX_CONCURRENT", "0")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("TX_MAX_CONCURRENT", "2")
	t.Setenv("TX_TIMEOUT", "soon")
	_, err = Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"err":     slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestNewLogger_Format(t *testing.T) {
	var cfg Config
	cfg.Log.Format = "text"
	var buf bytes.Buffer
	cfg.NewLogger(&buf).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	cfg.Log.Format = "json"
	cfg.NewLogger(&buf).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
