package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rmtp.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
tcp_addr = "0.0.0.0"
mcast_addr = "224.0.0.1"
mcast_port = 5173
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.MulticastTTL)
	require.Equal(t, "0.0.0.0", cfg.IfaceAddr)
	require.Equal(t, 120*time.Second, cfg.RetentionTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.EOPWatchdogTimeout)
	require.Equal(t, "224.0.0.1", cfg.McastAddr)
	require.Equal(t, 5173, cfg.McastPort)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rmtp.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
multicast_ttl = 4
retention_seconds = 60
eop_watchdog_seconds = 0.25
rate_bps = 1000000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MulticastTTL)
	require.Equal(t, 60*time.Second, cfg.RetentionTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.EOPWatchdogTimeout)
	require.Equal(t, uint64(1000000), cfg.RateBPS)
}
