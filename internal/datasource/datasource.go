// Package datasource opens the raw bytes of a stream. Sources are reopened
// for each run; nothing here buffers or replays.
package datasource

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"crawlstream/internal/config"
	"crawlstream/internal/datasource/file"
	"crawlstream/internal/datasource/httpds"
)

type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// New builds the source described by cfg. Paths and URLs ending in .gz are
// decompressed transparently.
func New(cfg config.Source, logger *slog.Logger) (Source, error) {
	switch cfg.Kind {
	case "file":
		return gunzipIf(file.NewLocal(cfg.File.Path), cfg.File.Path), nil
	case "http":
		c := httpds.NewClient(httpds.Config{
			Timeout:    time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.HTTP.Retries,
			Logger:     logger,
		})
		u := cfg.HTTP.URL
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		return gunzipIf(httpds.NewSource(c, cfg.HTTP.URL), u), nil
	default:
		return nil, fmt.Errorf("datasource: unknown source kind %q", cfg.Kind)
	}
}

func gunzipIf(s Source, name string) Source {
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		return gzipSource{s}
	}
	return s
}

// gzipSource decompresses the wrapped source.
type gzipSource struct{ Source }

func (g gzipSource) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := g.Source.Open(ctx)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("datasource: gzip: %w", err)
	}
	return &gzipReadCloser{Reader: zr, under: rc}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g *gzipReadCloser) Close() error {
	zerr := g.Reader.Close()
	if err := g.under.Close(); err != nil {
		return err
	}
	return zerr
}
