// Package audit keeps an append-only SQLite record of every pool operation
// attempt, successful or failed, for reconciliation against the venue.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"sharepool/coordinator"
)

// Log persists operation records. It satisfies coordinator.AuditRecorder.
type Log struct {
	db          *sql.DB
	logger      *slog.Logger
	requestIDFn func(context.Context) string
}

var _ coordinator.AuditRecorder = (*Log)(nil)

// Record is one persisted operation attempt.
type Record struct {
	ID            int64
	OccurredAt    time.Time
	RequestID     string
	Operation     string
	Account       string
	Amount        string
	Shares        string
	BalanceBefore string
	BalanceAfter  string
	Failure       string
}

// Open initialises the audit database at path. requestIDFn extracts the
// request identifier from the operation context and may be nil.
func Open(path string, logger *slog.Logger, requestIDFn func(context.Context) string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{db: db, logger: logger, requestIDFn: requestIDFn}
	if err := l.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init() error {
	schema := `CREATE TABLE IF NOT EXISTS pool_operations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        occurred_at TEXT NOT NULL,
        request_id TEXT,
        operation TEXT NOT NULL,
        account TEXT NOT NULL,
        amount TEXT,
        shares TEXT,
        balance_before TEXT,
        balance_after TEXT,
        failure TEXT
    );`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RecordOperation implements coordinator.AuditRecorder. Audit writes never
// fail the operation they describe; errors are logged and dropped. The write
// uses its own deadline so records survive cancelled request contexts.
func (l *Log) RecordOperation(ctx context.Context, entry coordinator.AuditEntry) {
	requestID := ""
	if l.requestIDFn != nil {
		requestID = l.requestIDFn(ctx)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(writeCtx,
		`INSERT INTO pool_operations
            (occurred_at, request_id, operation, account, amount, shares, balance_before, balance_after, failure)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		requestID, entry.Operation, entry.Account, entry.Amount, entry.Shares,
		entry.BalanceBefore, entry.BalanceAfter, entry.Failure)
	if err != nil {
		l.logger.Error("audit write failed",
			"operation", entry.Operation, "account", entry.Account, "error", err)
	}
}

// Recent returns up to limit records, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, occurred_at, request_id, operation, account, amount, shares,
                balance_before, balance_after, failure
         FROM pool_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			occurredAt string
		)
		if err := rows.Scan(&rec.ID, &occurredAt, &rec.RequestID, &rec.Operation,
			&rec.Account, &rec.Amount, &rec.Shares, &rec.BalanceBefore,
			&rec.BalanceAfter, &rec.Failure); err != nil {
			return nil, err
		}
		rec.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
