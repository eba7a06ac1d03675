// Package storage contains storage-agnostic contracts: the Repository
// interface every sink implements, a kind-keyed factory registry, table
// bootstrapping, and a batched loader that drains cast rows into a
// Repository.
//
// Backends register themselves from init. Import
// crawlstream/internal/storage/all to enable every built-in backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Repository is the minimal contract a sink implements.
type Repository interface {
	// CopyFrom inserts rows aligned to columns and returns how many were
	// written.
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)

	// Exec runs a single statement, typically DDL.
	Exec(ctx context.Context, sql string) error

	// Close releases the underlying connection(s).
	Close()
}

// Config is the backend-neutral description of a sink.
type Config struct {
	Kind    string
	DSN     string
	Table   string
	Columns []string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory or a duplicate registration.
func Register(kind string, f Factory) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || f == nil {
		panic("storage: Register requires a kind and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("storage: Register called twice for " + kind)
	}
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("storage: %s: table must not be empty", kind)
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
