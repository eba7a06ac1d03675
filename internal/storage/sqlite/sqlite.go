// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the pure-Go modernc driver. SQLite has no bulk-load API
// like Postgres COPY, so each batch is one transaction over a prepared
// INSERT.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"crawlstream/internal/caster"
	"crawlstream/internal/storage"
)

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db    *sql.DB
	table string
}

// Open opens a database handle for dsn ("crawl.db", "file::memory:?cache=shared").
func Open(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	return db, nil
}

// NewRepository opens dsn, pings it and returns a Repository writing to
// table.
func NewRepository(ctx context.Context, dsn, table string) (*Repository, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return New(db, table), nil
}

// New wraps an existing handle.
func New(db *sql.DB, table string) *Repository {
	return &Repository{db: db, table: table}
}

// CopyFrom inserts rows in a single transaction through a prepared INSERT.
// Every row must have len(columns) cells.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: CopyFrom: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		dialect.QuoteFQN(r.table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: CopyFrom: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return int64(len(rows)), nil
}

// Exec runs a single statement.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("sqlite: Exec: empty statement")
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

// DB exposes the handle for queries outside the Repository contract.
func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Close() { _ = r.db.Close() }

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// MapType maps a value kind to a SQLite column type. Booleans are stored as
// 0/1 and timestamps as the driver's text form.
func MapType(k caster.Kind) string {
	switch k {
	case caster.KindInt, caster.KindBool:
		return "INTEGER"
	case caster.KindFloat:
		return "REAL"
	case caster.KindTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

var dialect = storage.Dialect{QuoteIdent: quoteIdent, MapType: MapType}

var _ storage.Repository = (*Repository)(nil)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN, cfg.Table)
	})
	storage.RegisterDDL("sqlite", dialect)
}
