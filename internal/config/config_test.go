package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  addr: ":9090"
ledger:
  db_path: /var/lib/gateway/usage.db
  window: 24h
budget:
  default:
    limit_cost: 2.0
    downgrade_threshold: 0.75
  policies:
    team-a:
      limit_cost: 10.0
    team-b:
      limit_cost: 0.5
      downgrade_threshold: 0.9
  global_limit_cost: 100.0
backends:
  full:
    provider: openai
    model: gpt-4o
    api_key: ${GATEWAY_TEST_OPENAI_KEY:-sk-test}
  downgraded:
    provider: ollama
    model: llama3.2
logging:
  level: debug
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/gateway/usage.db", cfg.Ledger.DBPath)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.Window)
	assert.Equal(t, "sk-test", cfg.Backends.Full.APIKey, "env default must expand")
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset sections keep their defaults.
	assert.Equal(t, DefaultAuditLogPath, cfg.Ledger.AuditLogPath)
	assert.Equal(t, DefaultOllamaURL, cfg.Backends.Downgraded.BaseURL)
}

func TestPolicyFor_ExplicitAndDefault(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	teamA := cfg.Budget.PolicyFor("team-a")
	assert.Equal(t, "team-a", teamA.CallerID)
	assert.Equal(t, 10.0, teamA.LimitCost)
	assert.Equal(t, 0.75, teamA.DowngradeThreshold, "threshold inherited from default")
	assert.Equal(t, 100.0, teamA.GlobalLimitCost)

	teamB := cfg.Budget.PolicyFor("team-b")
	assert.Equal(t, 0.9, teamB.DowngradeThreshold)

	unknown := cfg.Budget.PolicyFor("team-z")
	assert.Equal(t, "team-z", unknown.CallerID)
	assert.Equal(t, 2.0, unknown.LimitCost, "unknown callers get the default policy")
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("GATEWAY_TEST_OPENAI_KEY", "sk-from-env")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Backends.Full.APIKey)
}

func TestExpandEnvWithDefaults(t *testing.T) {
	t.Setenv("GATEWAY_TEST_SET", "value")

	assert.Equal(t, "value", ExpandEnvWithDefaults("${GATEWAY_TEST_SET}"))
	assert.Equal(t, "fallback", ExpandEnvWithDefaults("${GATEWAY_TEST_UNSET_XYZ:-fallback}"))
	assert.Equal(t, "", ExpandEnvWithDefaults("${GATEWAY_TEST_UNSET_XYZ}"))
	assert.Equal(t, "plain text", ExpandEnvWithDefaults("plain text"))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing addr",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "server.addr",
		},
		{
			name:    "bad provider",
			mutate:  func(c *Config) { c.Backends.Full.Provider = "bedrock" },
			wantErr: "provider",
		},
		{
			name:    "openai without key",
			mutate:  func(c *Config) { c.Backends.Full.APIKey = "" },
			wantErr: "api_key",
		},
		{
			name:    "bad threshold",
			mutate:  func(c *Config) { c.Budget.Default.DowngradeThreshold = 1.5 },
			wantErr: "downgrade_threshold",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleConfig))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("server: [not, a, map]"))
	assert.Error(t, err)
}
