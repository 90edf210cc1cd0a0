// Package sql stores the history journal in a relational table through
// database/sql. SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq) are
// supported.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/framefield/tooll-sub003/application/ports"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Journal implements ports.Journal on a SQL table.
type Journal struct {
	db     *sql.DB
	driver string
	table  string
	logger *zap.Logger
}

// Open connects, pings and creates the table if it does not exist.
func Open(ctx context.Context, driver, dsn, table string, logger *zap.Logger) (*Journal, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, pkgerrors.NewValidationErrorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, pkgerrors.NewDatabaseError("ping", err)
	}
	j, err := New(ctx, db, driver, table, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an open database and creates the table if needed.
func New(ctx context.Context, db *sql.DB, driver, table string, logger *zap.Logger) (*Journal, error) {
	if !identifier.MatchString(table) {
		return nil, pkgerrors.NewValidationErrorf("invalid journal table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	j := &Journal{db: db, driver: driver, table: table, logger: logger}
	if err := j.migrate(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	tsType := "TIMESTAMP"
	if j.driver == DriverPostgres {
		tsType = "TIMESTAMPTZ"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			session        TEXT    NOT NULL,
			sequence       BIGINT  NOT NULL,
			action         TEXT    NOT NULL,
			name           TEXT    NOT NULL,
			record_type    TEXT    NOT NULL,
			record_version INTEGER NOT NULL,
			payload        TEXT    NOT NULL,
			created_at     %s      NOT NULL,
			PRIMARY KEY (session, sequence)
		)`, j.table, tsType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)`, j.table, j.table),
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return pkgerrors.NewDatabaseError("migrate", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (j *Journal) rebind(query string) string {
	if j.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (j *Journal) insertQuery() string {
	return j.rebind(fmt.Sprintf(`INSERT INTO %s
		(session, sequence, action, name, record_type, record_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, j.table))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (j *Journal) insert(ctx context.Context, db execer, e ports.Entry) error {
	_, err := db.ExecContext(ctx, j.insertQuery(),
		e.Session, e.Sequence, string(e.Action), e.Name,
		e.Record.Type, e.Record.Version, string(e.Record.Payload), e.Timestamp.UTC(),
	)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return pkgerrors.NewConflictErrorf("sequence %d already journaled for %s", e.Sequence, e.Session)
	}
	return pkgerrors.NewDatabaseError("insert", err)
}

// Append inserts one entry. An existing (session, sequence) is a conflict.
func (j *Journal) Append(ctx context.Context, entry ports.Entry) error {
	if err := j.insert(ctx, j.db, entry); err != nil {
		return err
	}
	j.logger.Debug("Journal entry saved",
		zap.String("session", entry.Session),
		zap.Int64("sequence", entry.Sequence),
	)
	return nil
}

// AppendBatch inserts entries in one transaction.
func (j *Journal) AppendBatch(ctx context.Context, entries []ports.Entry) (err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewDatabaseError("begin", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				j.logger.Error("Rollback failed", zap.Error(rbErr))
			}
		}
	}()

	for _, e := range entries {
		if err = j.insert(ctx, tx, e); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return pkgerrors.NewDatabaseError("commit", err)
	}
	return nil
}

// Entries returns the session's entries ordered by sequence.
func (j *Journal) Entries(ctx context.Context, session string) ([]ports.Entry, error) {
	query := j.rebind(fmt.Sprintf(`SELECT session, sequence, action, name, record_type, record_version, payload, created_at
		FROM %s WHERE session = ? ORDER BY sequence`, j.table))
	rows, err := j.db.QueryContext(ctx, query, session)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("query", err)
	}
	defer rows.Close()

	var entries []ports.Entry
	for rows.Next() {
		var (
			e       ports.Entry
			action  string
			payload string
			created time.Time
		)
		if err := rows.Scan(&e.Session, &e.Sequence, &action, &e.Name, &e.Record.Type, &e.Record.Version, &payload, &created); err != nil {
			return nil, pkgerrors.NewDatabaseError("scan", err)
		}
		e.Action = ports.JournalAction(action)
		e.Record.Payload = json.RawMessage(payload)
		e.Timestamp = created.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("query", err)
	}
	return entries, nil
}

// Sessions lists the sessions that have entries.
func (j *Journal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT session FROM %s ORDER BY session`, j.table))
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("query", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, pkgerrors.NewDatabaseError("scan", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
