// Package config loads and validates the gateway configuration.
//
// DESIGN: One YAML file describes the whole deployment: HTTP server, ledger
// storage, budget policies per caller, and the two backend tiers. Values may
// reference environment variables with ${VAR} or ${VAR:-default}; expansion
// happens before parsing so secrets stay out of the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tollgate/policy-gateway/internal/budget"
	"github.com/tollgate/policy-gateway/internal/ledger"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Budget   BudgetConfig   `yaml:"budget"`
	Backends BackendsConfig `yaml:"backends"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
}

// LedgerConfig configures usage storage and the audit stream.
type LedgerConfig struct {
	DBPath       string        `yaml:"db_path"`
	AuditLogPath string        `yaml:"audit_log_path"`
	Window       time.Duration `yaml:"window"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	// FailClosedAudit makes a failed audit write fail the request.
	FailClosedAudit bool `yaml:"fail_closed_audit"`
}

// BudgetConfig holds per-caller policies plus the default applied to callers
// without an explicit entry.
type BudgetConfig struct {
	Default  budget.Policy            `yaml:"default"`
	Policies map[string]budget.Policy `yaml:"policies"`
	// GlobalLimitCost caps aggregate spend across all callers per window.
	GlobalLimitCost float64 `yaml:"global_limit_cost"`
}

// PolicyFor resolves the effective policy for a caller. The caller ID and
// global limit are always filled in, so handlers never see a half-built
// policy.
func (b BudgetConfig) PolicyFor(callerID string) budget.Policy {
	policy, ok := b.Policies[callerID]
	if !ok {
		policy = b.Default
	}
	policy.CallerID = callerID
	if policy.DowngradeThreshold == 0 {
		policy.DowngradeThreshold = b.Default.DowngradeThreshold
	}
	if policy.GlobalLimitCost == 0 {
		policy.GlobalLimitCost = b.GlobalLimitCost
	}
	return policy
}

// BackendsConfig describes the two backend tiers.
type BackendsConfig struct {
	Full       BackendConfig `yaml:"full"`
	Downgraded BackendConfig `yaml:"downgraded"`
}

// BackendConfig describes one backend endpoint.
type BackendConfig struct {
	// Provider is "openai" or "ollama".
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads, expands, parses, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's flag
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses config bytes after environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnvWithDefaults(string(data))

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MetricsEnabled:  true,
		},
		Ledger: LedgerConfig{
			DBPath:       DefaultDBPath,
			AuditLogPath: DefaultAuditLogPath,
			Window:       DefaultWindow,
			BusyTimeout:  DefaultBusyTimeout,
		},
		Budget: BudgetConfig{
			Default: budget.Policy{
				LimitCost:          DefaultLimitCost,
				DowngradeThreshold: DefaultDowngradeThreshold,
			},
		},
		Backends: BackendsConfig{
			Full: BackendConfig{
				Provider: "openai",
				Model:    DefaultFullModel,
				Timeout:  DefaultBackendTimeout,
			},
			Downgraded: BackendConfig{
				Provider: "ollama",
				Model:    DefaultDowngradedModel,
				BaseURL:  DefaultOllamaURL,
				Timeout:  DefaultBackendTimeout,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks the configuration for contradictions before startup.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	lcfg := c.LedgerConfig()
	if err := lcfg.Validate(); err != nil {
		return err
	}

	if err := c.Budget.Default.Validate(); err != nil {
		return fmt.Errorf("budget.default: %w", err)
	}
	for callerID := range c.Budget.Policies {
		policy := c.Budget.PolicyFor(callerID)
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("budget.policies[%s]: %w", callerID, err)
		}
	}
	if c.Budget.GlobalLimitCost < 0 {
		return fmt.Errorf("budget.global_limit_cost must be >= 0")
	}

	for name, backend := range map[string]BackendConfig{
		"backends.full":       c.Backends.Full,
		"backends.downgraded": c.Backends.Downgraded,
	} {
		switch backend.Provider {
		case "openai", "ollama":
		default:
			return fmt.Errorf("%s.provider must be openai or ollama, got %q", name, backend.Provider)
		}
		if backend.Model == "" {
			return fmt.Errorf("%s.model is required", name)
		}
		if backend.Provider == "openai" && backend.APIKey == "" {
			return fmt.Errorf("%s.api_key is required for the openai provider", name)
		}
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not a zerolog level", c.Logging.Level)
	}

	return nil
}

// LedgerConfig converts the YAML section into the ledger package's config.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		DBPath:       c.Ledger.DBPath,
		AuditLogPath: c.Ledger.AuditLogPath,
		Window:       c.Ledger.Window,
		BusyTimeout:  c.Ledger.BusyTimeout,
	}
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references. An
// unset variable without a default expands to the empty string.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		name := groups[1]
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		if strings.HasPrefix(groups[2], ":-") {
			return groups[3]
		}
		return ""
	})
}
