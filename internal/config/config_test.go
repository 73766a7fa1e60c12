package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auctionchain/auction-mirror/internal/config"
)

func TestDefaultsPass(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, config.CheckParameters(&cfg))
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[chain]
ws_url = "ws://node:9944"
pallet = "Template"

[reconnect]
max_attempts = 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := config.Default()
	require.NoError(t, config.ReadFile(path, &cfg))

	require.Equal(t, "ws://node:9944", cfg.Chain.WSURL)
	require.Equal(t, 7, cfg.Reconnect.MaxAttempts)

	// untouched sections keep their defaults
	require.Equal(t, 30, cfg.Reconnect.MaxDelaySeconds)
	require.Equal(t, 64, cfg.Indexer.QueueSize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_WS_URL", "ws://other:9944")
	t.Setenv("DB_PASSWORD", "hunter2")

	cfg := config.Default()
	cfg.ApplyEnvOverrides()

	require.Equal(t, "ws://other:9944", cfg.Chain.WSURL)
	require.Equal(t, "hunter2", cfg.DB.Password)
}

func TestCheckParameters(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.WSURL = ""
	require.Error(t, config.CheckParameters(&cfg))

	cfg = config.Default()
	cfg.Reconnect.MaxAttempts = 0
	require.Error(t, config.CheckParameters(&cfg))

	cfg = config.Default()
	cfg.Indexer.QueueSize = -1
	require.Error(t, config.CheckParameters(&cfg))
}
