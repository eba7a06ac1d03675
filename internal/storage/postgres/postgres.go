// Package postgres implements a Postgres repository on a pgx v5 pool. Batches
// are written with the COPY protocol.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crawlstream/internal/caster"
	"crawlstream/internal/storage"
)

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool  *pgxpool.Pool
	table string
}

// NewRepository creates a pool for dsn and verifies it with a ping.
func NewRepository(ctx context.Context, dsn, table string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repository{pool: pool, table: table}, nil
}

// CopyFrom streams rows into the table with COPY.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(r.table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy into %s: %w", r.table, err)
	}
	return n, nil
}

// Exec runs a single statement.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return err
}

func (r *Repository) Close() { r.pool.Close() }

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// pgIdent quotes a single identifier segment.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// MapType maps a value kind to a Postgres column type.
func MapType(k caster.Kind) string {
	switch k {
	case caster.KindInt:
		return "BIGINT"
	case caster.KindFloat:
		return "DOUBLE PRECISION"
	case caster.KindBool:
		return "BOOLEAN"
	case caster.KindTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

var dialect = storage.Dialect{QuoteIdent: pgIdent, MapType: MapType}

var _ storage.Repository = (*Repository)(nil)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN, cfg.Table)
	})
	storage.RegisterDDL("postgres", dialect)
}
