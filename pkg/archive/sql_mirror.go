// Package archive copies transparency ledger entries into a relational
// database as they are appended. The in-memory chain stays authoritative;
// the archive exists so entries survive restarts and can be inspected with
// plain SQL.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/castellan-labs/recourse/pkg/ledger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavor the mirror speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Open opens a database handle for the given dialect. The DSN is a file
// path (sqlite) or a connection string (postgres).
func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectSQLite:
		return sql.Open("sqlite", dsn)
	case DialectPostgres:
		return sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unknown archive dialect %q", dialect)
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS recourse_ledger_entries (
    sequence BIGINT PRIMARY KEY,
    entry_id TEXT NOT NULL,
    entry_type TEXT NOT NULL,
    proposal_id TEXT,
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    entry_time TEXT NOT NULL,
    previous_hash TEXT NOT NULL,
    verification_hash TEXT NOT NULL,
    details_json TEXT
)`

// SQLMirror implements ledger.Mirror over database/sql. Queries are written
// with ? placeholders and rebound to $N for postgres.
type SQLMirror struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewSQLMirror wraps an open database handle. Call Init before attaching
// the mirror to a ledger.
func NewSQLMirror(db *sql.DB, dialect Dialect) *SQLMirror {
	return &SQLMirror{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "archive"),
	}
}

// WithLogger replaces the mirror's logger and returns the mirror.
func (m *SQLMirror) WithLogger(logger *slog.Logger) *SQLMirror {
	if logger != nil {
		m.logger = logger.With("component", "archive")
	}
	return m
}

// Init creates the archive table if it does not exist.
func (m *SQLMirror) Init(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

// Record inserts one ledger entry. Sequence is the primary key, so replaying
// an entry the archive already holds fails rather than silently forking.
func (m *SQLMirror) Record(ctx context.Context, e ledger.Entry) error {
	query := m.rebind(`INSERT INTO recourse_ledger_entries (
		sequence, entry_id, entry_type, proposal_id, actor, action, entry_time, previous_hash, verification_hash, details_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	detailsJSON := ""
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode entry details: %w", err)
		}
		detailsJSON = string(raw)
	}

	_, err := m.db.ExecContext(ctx, query,
		e.Sequence, e.ID, string(e.Type), e.ProposalID, e.Actor, e.Action,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.PreviousHash, e.VerificationHash, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to archive entry %d: %w", e.Sequence, err)
	}
	return nil
}

// Replay returns archived entries with sequence >= from, in chain order.
func (m *SQLMirror) Replay(ctx context.Context, from uint64) ([]ledger.Entry, error) {
	query := m.rebind(`
		SELECT sequence, entry_id, entry_type, proposal_id, actor, action, entry_time, previous_hash, verification_hash, details_json
		FROM recourse_ledger_entries
		WHERE sequence >= ?
		ORDER BY sequence
	`)
	rows, err := m.db.QueryContext(ctx, query, from)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Count reports how many entries the archive holds, for reconciliation
// against the in-memory chain.
func (m *SQLMirror) Count(ctx context.Context) (int, error) {
	row := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recourse_ledger_entries`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanEntryRow(rows *sql.Rows) (ledger.Entry, error) {
	var (
		sequence     uint64
		entryID      string
		entryType    string
		proposalID   sql.NullString
		actor        string
		action       string
		entryTime    string
		previousHash string
		verification string
		detailsJSON  sql.NullString
	)
	if err := rows.Scan(&sequence, &entryID, &entryType, &proposalID, &actor, &action, &entryTime, &previousHash, &verification, &detailsJSON); err != nil {
		return ledger.Entry{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, entryTime)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to parse archived entry time %q: %w", entryTime, err)
	}

	var details map[string]interface{}
	if detailsJSON.Valid && detailsJSON.String != "" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &details); err != nil {
			return ledger.Entry{}, fmt.Errorf("failed to decode archived entry details: %w", err)
		}
	}

	return ledger.Entry{
		ID:               entryID,
		Sequence:         sequence,
		Type:             ledger.EntryType(entryType),
		ProposalID:       proposalID.String,
		Actor:            actor,
		Action:           action,
		Timestamp:        ts,
		Details:          details,
		PreviousHash:     previousHash,
		VerificationHash: verification,
	}, nil
}

// rebind converts ? placeholders to $N for postgres. SQLite accepts ?
// directly.
func (m *SQLMirror) rebind(query string) string {
	if m.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
