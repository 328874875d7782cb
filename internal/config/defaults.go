// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// HTTP SERVER
// =============================================================================

// DefaultAddr is the default listen address.
const DefaultAddr = ":8090"

// DefaultReadTimeout for the HTTP server.
const DefaultReadTimeout = 30 * time.Second

// DefaultWriteTimeout for the HTTP server. Generous because a full-tier
// generation can take minutes.
const DefaultWriteTimeout = 5 * time.Minute

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// =============================================================================
// LEDGER
// =============================================================================

// DefaultDBPath is the default SQLite usage store location.
const DefaultDBPath = "policy-gateway.db"

// DefaultAuditLogPath is the default JSONL audit stream location.
const DefaultAuditLogPath = "policy-gateway-audit.jsonl"

// DefaultWindow is the budget accounting window.
const DefaultWindow = 24 * time.Hour

// DefaultBusyTimeout is the SQLite busy timeout.
const DefaultBusyTimeout = 5 * time.Second

// =============================================================================
// BUDGET
// =============================================================================

// DefaultLimitCost is the per-caller window limit in USD when no policy is
// configured.
const DefaultLimitCost = 1.00

// DefaultDowngradeThreshold is the fraction of the limit at which requests
// shift to the downgraded tier.
const DefaultDowngradeThreshold = 0.8

// =============================================================================
// BACKENDS
// =============================================================================

// DefaultFullModel is the full-tier model.
const DefaultFullModel = "gpt-4o"

// DefaultDowngradedModel is the downgraded-tier model.
const DefaultDowngradedModel = "llama3.2"

// DefaultOllamaURL is the local Ollama endpoint.
const DefaultOllamaURL = "http://localhost:11434"

// DefaultBackendTimeout bounds one backend call.
const DefaultBackendTimeout = 2 * time.Minute
