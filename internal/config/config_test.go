package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadCoordinator_Defaults(t *testing.T) {
	p := writeTemp(t, `
coordinator:
  listenAddr: ":9090"
  token: "none"
`)
	cfg, err := LoadCoordinator(p)
	require.NoError(t, err)
	assert.True(t, cfg.Coordinator.AuthDisabled())
	assert.Equal(t, 30*time.Second, cfg.Coordinator.PingInterval())
	assert.Equal(t, 60*time.Second, cfg.Coordinator.StaleTimeout())
	assert.Equal(t, 10*time.Second, cfg.BLE.ScanDuration())
}

func TestLoadCoordinator_RequiresListenAddr(t *testing.T) {
	p := writeTemp(t, `coordinator: {}`)
	_, err := LoadCoordinator(p)
	assert.Error(t, err)
}

func TestLoadCoordinator_RejectsBadAddressType(t *testing.T) {
	p := writeTemp(t, `
coordinator:
  listenAddr: ":9090"
ble:
  addressType: "bogus"
`)
	_, err := LoadCoordinator(p)
	assert.Error(t, err)
}

func TestAuthDisabled(t *testing.T) {
	assert.True(t, Coordinator{Token: ""}.AuthDisabled())
	assert.True(t, Coordinator{Token: "none"}.AuthDisabled())
	assert.False(t, Coordinator{Token: "s3cret"}.AuthDisabled())
}

func TestLoadAgent_RequiresServerURL(t *testing.T) {
	p := writeTemp(t, `agent: {}`)
	_, err := LoadAgent(p)
	assert.Error(t, err)
}
