package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsNeedContractAddress(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract: address is required")

	cfg.Contract.Address = "0200abcdef"
	assert.NoError(t, cfg.Validate())
}

func TestSimulateModeSkipsContractAddress(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "simulate"
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.UsesSimLedger())

	cfg = Defaults()
	cfg.Contract.Backend = "sim"
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Contract.Address = "x"
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Monitor.AtRiskRatio = 0.5
	cfg.Server.Port = 0
	cfg.Oracle.Condition = "sideways"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed:")
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "at_risk_ratio")
	assert.Contains(t, msg, "server: port")
	assert.Contains(t, msg, `unknown condition "sideways"`)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statera.toml")
	content := `
mode = "monitor"

[contract]
address = "0200feed"

[monitor]
interval = "10s"
positions = ["a", "b"]

[oracle]
initial_price = 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "0200feed", cfg.Contract.Address)
	assert.Equal(t, 10*time.Second, cfg.Monitor.Interval.Duration)
	assert.Equal(t, []string{"a", "b"}, cfg.Monitor.Positions)
	assert.Equal(t, 0.5, cfg.Oracle.InitialPrice)
	// untouched sections keep their defaults
	assert.Equal(t, 5500, cfg.Server.Port)
	assert.Equal(t, 1.2, cfg.Monitor.AtRiskRatio)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", "legacy")
	t.Setenv("STATERA_CONTRACT_ADDRESS", "prefixed")
	t.Setenv("STATERA_MONITOR_INTERVAL", "45s")
	t.Setenv("STATERA_MONITOR_POSITIONS", " p1, ,p2 ")
	t.Setenv("STATERA_PROTOCOL_LIQUIDATION_THRESHOLD", "85")
	t.Setenv("STATERA_REDIS_ENABLED", "true")
	t.Setenv("STATERA_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Contract.Address)
	assert.Equal(t, 45*time.Second, cfg.Monitor.Interval.Duration)
	assert.Equal(t, []string{"p1", "p2"}, cfg.Monitor.Positions)
	assert.Equal(t, uint64(85), cfg.Protocol.LiquidationThreshold)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 5500, cfg.Server.Port)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.Seed = "00ff"
	cfg.Contract.APISecret = "secret"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"
	cfg.Monitor.Positions = []string{"p1"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.Seed)
	assert.Equal(t, "***", out.Contract.APISecret)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Wallet.SeedPassword)

	out.Monitor.Positions[0] = "changed"
	assert.Equal(t, "p1", cfg.Monitor.Positions[0])
	assert.Equal(t, "00ff", cfg.Wallet.Seed)
}
