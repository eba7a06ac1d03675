package storage

import (
	"context"
	"fmt"
	"strings"

	"crawlstream/internal/caster"
)

// ColumnDef is one destination column. Every cast cell may be null, so
// columns are nullable unless NotNull is set.
type ColumnDef struct {
	Name    string
	Kind    caster.Kind
	NotNull bool
}

// TableDef describes a destination table.
type TableDef struct {
	// FQN is the table name, optionally schema qualified ("crawl.infos").
	FQN     string
	Columns []ColumnDef
}

// TableFromFields derives a TableDef from a stream's field list.
func TableFromFields(fqn string, fields []caster.FieldDef) TableDef {
	cols := make([]ColumnDef, len(fields))
	for i, f := range fields {
		cols[i] = ColumnDef{Name: f.Name, Kind: f.Converter.Kind()}
	}
	return TableDef{FQN: fqn, Columns: cols}
}

// Dialect renders backend-specific DDL.
type Dialect struct {
	// QuoteIdent quotes a single identifier segment.
	QuoteIdent func(string) string

	// MapType returns the column type for a value kind.
	MapType func(caster.Kind) string
}

var dialects = map[string]Dialect{}

// RegisterDDL registers the dialect used by EnsureTable for kind.
func RegisterDDL(kind string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[strings.ToLower(kind)] = d
}

// QuoteFQN quotes each dot-separated segment of fqn, dropping empty ones.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.QuoteIdent(p))
	}
	return strings.Join(out, ".")
}

// CreateTableSQL returns a CREATE TABLE IF NOT EXISTS statement for t:
//
//	CREATE TABLE IF NOT EXISTS "infos" (
//	  "id" BIGINT,
//	  "url" TEXT NOT NULL
//	);
func (d Dialect) CreateTableSQL(t TableDef) (string, error) {
	fqn := d.QuoteFQN(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("storage ddl: table name must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("storage ddl: table %s has no columns", t.FQN)
	}
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("storage ddl: column with empty name in table %s", t.FQN)
		}
		typ := d.MapType(c.Kind)
		if typ == "" {
			return "", fmt.Errorf("storage ddl: column %s: no type for kind %s", name, c.Kind)
		}
		col := d.QuoteIdent(name) + " " + typ
		if c.NotNull {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", fqn, strings.Join(cols, ",\n  ")), nil
}

// EnsureTable creates t through repo unless it already exists, using the
// dialect registered for kind.
func EnsureTable(ctx context.Context, kind string, repo Repository, t TableDef) error {
	mu.RLock()
	d, ok := dialects[strings.ToLower(kind)]
	mu.RUnlock()
	if !ok {
		return fmt.Errorf("storage ddl: no dialect registered for %q", kind)
	}
	stmt, err := d.CreateTableSQL(t)
	if err != nil {
		return err
	}
	if err := repo.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("storage ddl: create %s: %w", t.FQN, err)
	}
	return nil
}
