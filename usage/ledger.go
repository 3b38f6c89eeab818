package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/baum777/reasongate"
)

// tsLayout is fixed width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one provider attempt as stored in the ledger.
type Record struct {
	ID               string
	Timestamp        time.Time
	RequestID        string
	Provider         string
	UseCase          reasongate.UseCase
	Model            string
	Success          bool
	DurationMs       int64
	PromptTokens     int64
	CompletionTokens int64
	Error            string
}

// Summary holds aggregated totals over a time range.
type Summary struct {
	Calls            int64
	Errors           int64
	PromptTokens     int64
	CompletionTokens int64
	AvgDurationMs    float64
}

// Ledger is an append-only SQLite log of provider attempts. It is a
// reasongate.Meter and is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ reasongate.Meter = (*Ledger)(nil)

// OpenLedger opens or creates a ledger database at path.
func OpenLedger(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open ledger: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: migrate ledger: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
	PRAGMA journal_mode = WAL;
	CREATE TABLE IF NOT EXISTS provider_calls (
		id                TEXT PRIMARY KEY,
		timestamp         TEXT NOT NULL,
		request_id        TEXT NOT NULL,
		provider          TEXT NOT NULL,
		use_case          TEXT NOT NULL,
		model             TEXT NOT NULL,
		success           INTEGER NOT NULL,
		duration_ms       INTEGER NOT NULL,
		prompt_tokens     INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		error             TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_provider_calls_timestamp ON provider_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_provider_calls_provider ON provider_calls(provider, use_case);
	`)
	return err
}

func (l *Ledger) OnRoute(reasongate.RouteEvent) {}

// OnResult appends the attempt to the ledger.
func (l *Ledger) OnResult(e reasongate.ResultEvent) {
	rec := Record{
		Timestamp:        e.At,
		RequestID:        e.RequestID,
		Provider:         e.Provider,
		UseCase:          e.UseCase,
		Model:            e.Model,
		Success:          e.Success,
		DurationMs:       e.Duration.Milliseconds(),
		PromptTokens:     e.Usage.PromptTokens,
		CompletionTokens: e.Usage.CompletionTokens,
	}
	if e.Error != nil {
		rec.Error = e.Error.Error()
	}
	if err := l.Append(context.Background(), rec); err != nil {
		l.logger.Warn("usage ledger append failed", "provider", e.Provider, "error", err)
	}
}

// Append persists a record. If rec.ID is empty, a UUIDv7 is generated.
func (l *Ledger) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("usage: generate record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO provider_calls
			(id, timestamp, request_id, provider, use_case, model, success,
			 duration_ms, prompt_tokens, completion_tokens, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(tsLayout),
		rec.RequestID,
		rec.Provider,
		string(rec.UseCase),
		rec.Model,
		rec.Success,
		rec.DurationMs,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("usage: insert record: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (l *Ledger) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(AVG(duration_ms), 0)
		 FROM provider_calls
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(tsLayout),
		end.UTC().Format(tsLayout),
	)

	var s Summary
	if err := row.Scan(&s.Calls, &s.Errors, &s.PromptTokens, &s.CompletionTokens, &s.AvgDurationMs); err != nil {
		return Summary{}, fmt.Errorf("usage: query summary: %w", err)
	}
	return s, nil
}

// SummaryByUseCase returns totals grouped by "provider:use_case" for
// records within [start, end).
func (l *Ledger) SummaryByUseCase(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider, use_case, COUNT(*),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(AVG(duration_ms), 0)
		 FROM provider_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY provider, use_case`,
		start.UTC().Format(tsLayout),
		end.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("usage: query summary by use case: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Summary)
	for rows.Next() {
		var (
			provider, uc string
			s            Summary
		)
		if err := rows.Scan(&provider, &uc, &s.Calls, &s.Errors, &s.PromptTokens, &s.CompletionTokens, &s.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("usage: scan summary: %w", err)
		}
		out[reasongate.BudgetKey(provider, reasongate.UseCase(uc))] = s
	}
	return out, rows.Err()
}
