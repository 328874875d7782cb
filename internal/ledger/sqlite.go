package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// store persists usage records in SQLite. WAL mode with a single-writer
// connection pool; increments are serialized per caller by the Ledger's
// per-caller locks before they reach the database.
type store struct {
	db *sql.DB

	incrementStmt   *sql.Stmt
	readStmt        *sql.Stmt
	globalStmt      *sql.Stmt
	modelTotalsStmt *sql.Stmt
}

func openStore(dbPath string, busyTimeout time.Duration) (*store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if busyTimeout == 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		dbPath, int(busyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &store{db: db}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

func (s *store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		caller_id         TEXT NOT NULL,
		window_start      INTEGER NOT NULL,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost_accumulated  REAL NOT NULL DEFAULT 0,
		last_updated      INTEGER NOT NULL,
		PRIMARY KEY (caller_id, window_start)
	);

	CREATE TABLE IF NOT EXISTS model_totals (
		model             TEXT NOT NULL PRIMARY KEY,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost              REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_usage_window ON usage_records(window_start);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *store) prepareStatements() error {
	var err error

	s.incrementStmt, err = s.db.Prepare(`
		INSERT INTO usage_records (caller_id, window_start, prompt_tokens, completion_tokens, cost_accumulated, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (caller_id, window_start) DO UPDATE SET
			prompt_tokens     = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			cost_accumulated  = cost_accumulated + excluded.cost_accumulated,
			last_updated      = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.readStmt, err = s.db.Prepare(`
		SELECT prompt_tokens, completion_tokens, cost_accumulated
		FROM usage_records
		WHERE caller_id = ? AND window_start = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare read statement: %w", err)
	}

	s.globalStmt, err = s.db.Prepare(`
		SELECT COALESCE(SUM(cost_accumulated), 0)
		FROM usage_records
		WHERE window_start = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare global statement: %w", err)
	}

	s.modelTotalsStmt, err = s.db.Prepare(`
		SELECT model, prompt_tokens, completion_tokens, cost
		FROM model_totals
		ORDER BY cost DESC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare model totals statement: %w", err)
	}

	return nil
}

// increment applies one usage delta to the (caller, window) row.
func (s *store) increment(ctx context.Context, callerID string, window time.Time, promptTokens, completionTokens int64, cost float64) error {
	_, err := s.incrementStmt.ExecContext(ctx,
		callerID, window.Unix(), promptTokens, completionTokens, cost, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// read loads the record for (caller, window). Missing rows return a zeroed
// record, not an error.
func (s *store) read(ctx context.Context, callerID string, window time.Time) (UsageRecord, error) {
	rec := UsageRecord{CallerID: callerID, WindowStart: window}

	err := s.readStmt.QueryRowContext(ctx, callerID, window.Unix()).Scan(
		&rec.PromptTokens, &rec.CompletionTokens, &rec.CostAccumulated)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("failed to read usage record: %w", err)
	}
	return rec, nil
}

// globalCost sums accumulated cost across all callers for one window.
func (s *store) globalCost(ctx context.Context, window time.Time) (float64, error) {
	var total float64
	if err := s.globalStmt.QueryRowContext(ctx, window.Unix()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to read global cost: %w", err)
	}
	return total, nil
}

// incrementModel folds one call's usage into the per-model aggregate.
func (s *store) incrementModel(ctx context.Context, model string, promptTokens, completionTokens int64, cost float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_totals (model, prompt_tokens, completion_tokens, cost)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (model) DO UPDATE SET
			prompt_tokens     = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			cost              = cost + excluded.cost
	`, model, promptTokens, completionTokens, cost)
	if err != nil {
		return fmt.Errorf("failed to increment model totals: %w", err)
	}
	return nil
}

func (s *store) modelTotals(ctx context.Context) ([]ModelTotals, error) {
	rows, err := s.modelTotalsStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query model totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var totals []ModelTotals
	for rows.Next() {
		var t ModelTotals
		if err := rows.Scan(&t.Model, &t.PromptTokens, &t.CompletionTokens, &t.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan model totals row: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model totals: %w", err)
	}
	return totals, nil
}

func (s *store) close() error {
	if s.incrementStmt != nil {
		_ = s.incrementStmt.Close()
	}
	if s.readStmt != nil {
		_ = s.readStmt.Close()
	}
	if s.globalStmt != nil {
		_ = s.globalStmt.Close()
	}
	if s.modelTotalsStmt != nil {
		_ = s.modelTotalsStmt.Close()
	}
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
