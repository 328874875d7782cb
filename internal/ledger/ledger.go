package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWindow is the budgeting window period when the config leaves it unset.
const DefaultWindow = 24 * time.Hour

// Config holds ledger settings.
type Config struct {
	DBPath       string        `yaml:"db_path"`
	AuditLogPath string        `yaml:"audit_log_path"`
	Window       time.Duration `yaml:"window"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// Validate checks ledger configuration.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("ledger.db_path must be set")
	}
	if c.Window < 0 {
		return fmt.Errorf("ledger.window must be >= 0, got %s", c.Window)
	}
	return nil
}

// callerWindow is the in-memory cache of one caller's active record. Each
// caller has its own mutex; the outer map lock is only held long enough to
// find or create the entry, so unrelated callers never serialize on each
// other's increments.
type callerWindow struct {
	mu     sync.Mutex
	loaded bool
	rec    UsageRecord
}

// Ledger is the concurrency-safe usage accounting store.
type Ledger struct {
	store  *store
	audit  *auditLog
	window time.Duration

	mu      sync.RWMutex
	callers map[string]*callerWindow

	// now is replaceable in tests to exercise window rollover.
	now func() time.Time
}

// Open creates a Ledger backed by SQLite and a JSONL audit log.
func Open(cfg Config) (*Ledger, error) {
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}

	s, err := openStore(cfg.DBPath, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}

	a, err := newAuditLog(cfg.AuditLogPath)
	if err != nil {
		_ = s.close()
		return nil, err
	}

	return &Ledger{
		store:   s,
		audit:   a,
		window:  cfg.Window,
		callers: make(map[string]*callerWindow),
		now:     time.Now,
	}, nil
}

// Record applies one usage increment to the caller's active window and
// returns the updated record. Increments are serialized per caller, so
// concurrent calls for the same caller never lose updates. The in-memory
// record is updated before the durable write; a storage failure still
// returns the incremented record alongside the error so the caller can
// decide whether accounting is advisory.
func (l *Ledger) Record(ctx context.Context, callerID string, promptTokens, completionTokens int64, cost float64) (UsageRecord, error) {
	cw := l.caller(callerID)

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := l.rollLocked(ctx, cw, callerID); err != nil {
		return UsageRecord{}, err
	}

	cw.rec.PromptTokens += promptTokens
	cw.rec.CompletionTokens += completionTokens
	cw.rec.CostAccumulated += cost

	if err := l.store.increment(ctx, callerID, cw.rec.WindowStart, promptTokens, completionTokens, cost); err != nil {
		return cw.rec, err
	}
	return cw.rec, nil
}

// RecordModel folds one call's usage into the per-model aggregates. This is
// advisory accounting independent of budget windows.
func (l *Ledger) RecordModel(ctx context.Context, model string, promptTokens, completionTokens int64, cost float64) error {
	if model == "" {
		return nil
	}
	return l.store.incrementModel(ctx, model, promptTokens, completionTokens, cost)
}

// Read returns the caller's record for the current window. After a window
// rollover the returned record is zeroed even if no write has touched the
// new window yet.
func (l *Ledger) Read(ctx context.Context, callerID string) (UsageRecord, error) {
	cw := l.caller(callerID)

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := l.rollLocked(ctx, cw, callerID); err != nil {
		return UsageRecord{}, err
	}
	return cw.rec, nil
}

// AppendLog appends one audit entry. Entries are atomic: each is a single
// JSONL line, never interleaved with another.
func (l *Ledger) AppendLog(entry CallLogEntry) error {
	return l.audit.append(entry)
}

// Subscribe returns a channel receiving every audit entry appended after the
// call. Consumers that fall behind are dropped.
func (l *Ledger) Subscribe(buffer int) chan CallLogEntry {
	return l.audit.subscribe(buffer)
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (l *Ledger) Unsubscribe(ch chan CallLogEntry) {
	l.audit.unsubscribe(ch)
}

// GlobalCost returns the aggregate spend across all callers for the current
// window.
func (l *Ledger) GlobalCost(ctx context.Context) (float64, error) {
	return l.store.globalCost(ctx, windowStart(l.now(), l.window))
}

// ModelTotals returns per-model aggregates for the usage endpoint.
func (l *Ledger) ModelTotals(ctx context.Context) ([]ModelTotals, error) {
	return l.store.modelTotals(ctx)
}

// Snapshot returns the current-window records of every caller seen by this
// process. Read-only copies; safe for the usage endpoint.
func (l *Ledger) Snapshot() []UsageRecord {
	l.mu.RLock()
	ids := make([]string, 0, len(l.callers))
	for id := range l.callers {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	records := make([]UsageRecord, 0, len(ids))
	for _, id := range ids {
		cw := l.caller(id)
		cw.mu.Lock()
		if cw.loaded {
			records = append(records, cw.rec)
		}
		cw.mu.Unlock()
	}
	return records
}

// Probe verifies the durable store answers a read. Used by the health check.
func (l *Ledger) Probe(ctx context.Context) error {
	_, err := l.store.read(ctx, "_health_", windowStart(l.now(), l.window))
	return err
}

// Close releases the store and drops audit subscribers.
func (l *Ledger) Close() error {
	l.audit.closeAll()
	if err := l.store.close(); err != nil {
		log.Error().Err(err).Msg("ledger: failed to close store")
		return err
	}
	return nil
}

func (l *Ledger) caller(callerID string) *callerWindow {
	l.mu.RLock()
	cw, ok := l.callers[callerID]
	l.mu.RUnlock()
	if ok {
		return cw
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cw, ok = l.callers[callerID]; ok {
		return cw
	}
	cw = &callerWindow{}
	l.callers[callerID] = cw
	return cw
}

// rollLocked ensures cw.rec belongs to the current window, loading from the
// durable store on first touch. Caller must hold cw.mu.
func (l *Ledger) rollLocked(ctx context.Context, cw *callerWindow, callerID string) error {
	current := windowStart(l.now(), l.window)

	if cw.loaded && cw.rec.WindowStart.Equal(current) {
		return nil
	}

	rec, err := l.store.read(ctx, callerID, current)
	if err != nil {
		return err
	}

	if cw.loaded && !cw.rec.WindowStart.Equal(current) {
		log.Debug().
			Str("caller_id", callerID).
			Time("old_window", cw.rec.WindowStart).
			Time("new_window", current).
			Msg("ledger: window rollover")
	}

	cw.rec = rec
	cw.loaded = true
	return nil
}
