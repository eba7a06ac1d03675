// Package pipeline runs one crawl stream end to end.
//
// The source is opened, split into raw columns and cast into typed rows
// (fail-fast). The cast stream is materialized into a stream cache once, and
// independent consumers then replay it concurrently:
//
//	source → tsv.Split → RowCaster.Cast → cache.Fill
//	                                          ├─ replay → storage.LoadRows
//	                                          └─ replay → summary
//
// The cache is scoped to Run and closed on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"crawlstream/internal/caster"
	"crawlstream/internal/config"
	"crawlstream/internal/datasource"
	"crawlstream/internal/metrics"
	"crawlstream/internal/parser/tsv"
	"crawlstream/internal/storage"
	"crawlstream/internal/streamcache"
)

// Function variables used as test seams.
var (
	openSourceFn    = datasource.New
	newRepositoryFn = storage.New
)

// Result reports what a run did.
type Result struct {
	RunID   string
	Cache   streamcache.Stats
	Loaded  storage.LoadStats
	Summary Summary
	Elapsed time.Duration
}

// Summary is the run-log digest of the cast stream.
type Summary struct {
	Rows   int64
	Fields []string
	// Nulls[i] counts null cells of Fields[i].
	Nulls []int64
}

// Run executes s. Settings supply the process-level temp dir; everything
// else comes from the stream file.
func Run(ctx context.Context, s config.Stream, set config.Settings) (Result, error) {
	start := time.Now()
	res := Result{RunID: uuid.NewString()}
	logger := slog.Default().With("job", s.Job, "run_id", res.RunID)

	rc, err := s.RowCaster()
	if err != nil {
		return res, fmt.Errorf("pipeline: fields: %w", err)
	}
	if k := strings.ToLower(s.Parser.Kind); k != "tsv" {
		return res, fmt.Errorf("pipeline: unsupported parser kind %q", s.Parser.Kind)
	}

	// Open the sink first so a bad DSN fails before the source is read.
	repo, err := initRepository(ctx, s, rc)
	if err != nil {
		return res, err
	}
	if repo != nil {
		defer repo.Close()
	}

	cache, err := newCache(s.Cache, set, rc.Kinds(), logger)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("pipeline: cache close", "err", err)
		}
	}()

	if err := fill(ctx, s, rc, cache, logger); err != nil {
		return res, err
	}
	res.Cache = cache.Stats()
	metrics.RecordRows(s.Job, metrics.RowsBuffered, res.Cache.Buffered)
	metrics.RecordRows(s.Job, metrics.RowsSpilled, res.Cache.Spilled)
	logger.Info("pipeline: cache filled",
		"rows", humanize.Comma(res.Cache.Rows),
		"buffered", res.Cache.Buffered,
		"spilled", res.Cache.Spilled,
		"size", humanize.Bytes(uint64(res.Cache.Bytes)),
	)

	g, gctx := errgroup.WithContext(ctx)
	if repo != nil {
		g.Go(func() (err error) {
			done := metrics.StartStep(s.Job, "replay:loader")
			defer func() { done(err) }()
			res.Loaded, err = storage.LoadRows(gctx, repo, rc.Names(), cache.Replay(), storage.LoadOptions{
				BatchSize: s.Runtime.BatchSize,
				Job:       s.Job,
				Logger:    logger,
			})
			if err != nil {
				return fmt.Errorf("pipeline: load: %w", err)
			}
			return nil
		})
	}
	g.Go(func() (err error) {
		done := metrics.StartStep(s.Job, "replay:summary")
		defer func() { done(err) }()
		res.Summary, err = summarize(gctx, rc.Names(), cache.Replay())
		return err
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Elapsed = time.Since(start)
	logSummary(logger, res)
	return res, nil
}

// initRepository opens the configured sink and creates its table when asked.
// It returns a nil Repository when storage is disabled.
func initRepository(ctx context.Context, s config.Stream, rc *caster.RowCaster) (storage.Repository, error) {
	switch strings.ToLower(s.Storage.Kind) {
	case "", "none":
		return nil, nil
	}
	repo, err := newRepositoryFn(ctx, storage.Config{
		Kind:    s.Storage.Kind,
		DSN:     s.Storage.DB.DSN,
		Table:   s.Storage.DB.Table,
		Columns: rc.Names(),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: open storage: %w", err)
	}
	if s.Storage.DB.AutoCreateTable {
		td := storage.TableFromFields(s.Storage.DB.Table, rc.Fields())
		if err := storage.EnsureTable(ctx, s.Storage.Kind, repo, td); err != nil {
			repo.Close()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	return repo, nil
}

// newCache builds the cache selected by c. Generated backing files go to
// c.Dir, else to the process temp dir.
func newCache(c config.Cache, set config.Settings, kinds []caster.Kind, logger *slog.Logger) (streamcache.Cache[caster.Row], error) {
	codec := streamcache.RowCodec{Kinds: kinds}
	opts := []streamcache.Option{streamcache.WithLogger(logger)}
	dir := c.Dir
	if dir == "" {
		dir = set.TmpDir
	}
	if dir != "" {
		opts = append(opts, streamcache.WithDir(dir))
	}
	if c.Path != "" {
		opts = append(opts, streamcache.WithPath(c.Path))
	}

	switch strings.ToLower(c.Kind) {
	case config.CacheFile:
		return streamcache.NewFileCache[caster.Row](codec, opts...), nil
	case "", config.CacheBuffered:
		bc, err := streamcache.NewBufferedCache[caster.Row](codec, c.Size(), opts...)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		return bc, nil
	case config.CacheMemory:
		return streamcache.NewMemoryCache[caster.Row](opts...), nil
	default:
		return nil, fmt.Errorf("pipeline: unknown cache kind %q", c.Kind)
	}
}

// fill reads the source through the caster into cache.
func fill(ctx context.Context, s config.Stream, rc *caster.RowCaster, cache streamcache.Cache[caster.Row], logger *slog.Logger) (err error) {
	done := metrics.StartStep(s.Job, "fill")
	defer func() { done(err) }()

	src, err := openSourceFn(s.Source, logger)
	if err != nil {
		return fmt.Errorf("pipeline: source: %w", err)
	}
	r, err := src.Open(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: open source: %w", err)
	}
	defer r.Close()

	var read, cast int64
	raw := counted(tsv.Split(ctx, r, parserOptions(s, logger)), &read)
	rows := counted(rc.Cast(raw), &cast)
	err = cache.Fill(rows)
	metrics.RecordRows(s.Job, metrics.RowsRead, read)
	metrics.RecordRows(s.Job, metrics.RowsCast, cast)

	var ce *caster.CastError
	if errors.As(err, &ce) {
		metrics.RecordRows(s.Job, metrics.RowsCastErrors, 1)
		logger.Error("pipeline: cast failed", "field", ce.Field, "row", ce.Row, "err", ce.Err)
	}
	if err != nil {
		return fmt.Errorf("pipeline: fill: %w", err)
	}
	return nil
}

// parserOptions reads the tsv options of s. A parser-level progress_every
// wins over the runtime one.
func parserOptions(s config.Stream, logger *slog.Logger) tsv.Options {
	opt := tsv.OptionsFrom(s.Parser.Options)
	if opt.ProgressEvery == 0 {
		opt.ProgressEvery = s.Runtime.ProgressEvery
	}
	opt.Logger = logger
	return opt
}

// counted passes seq through and counts the items it yields.
func counted[T any](seq iter.Seq2[T, error], n *int64) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v, err := range seq {
			if err == nil {
				*n++
			}
			if !yield(v, err) {
				return
			}
		}
	}
}

// summarize tallies rows and null cells per field.
func summarize(ctx context.Context, fields []string, rows iter.Seq2[caster.Row, error]) (Summary, error) {
	sum := Summary{Fields: fields, Nulls: make([]int64, len(fields))}
	for row, err := range rows {
		if err != nil {
			return sum, fmt.Errorf("pipeline: summary: %w", err)
		}
		if sum.Rows%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
		}
		sum.Rows++
		for i, v := range row {
			if i < len(sum.Nulls) && v.IsNull() {
				sum.Nulls[i]++
			}
		}
	}
	return sum, nil
}

func logSummary(logger *slog.Logger, res Result) {
	attrs := []any{
		"rows", humanize.Comma(res.Summary.Rows),
		"loaded", humanize.Comma(res.Loaded.Rows),
		"batches", res.Loaded.Batches,
		"elapsed", res.Elapsed.Truncate(time.Millisecond),
	}
	for i, f := range res.Summary.Fields {
		if n := res.Summary.Nulls[i]; n > 0 {
			attrs = append(attrs, "null."+f, n)
		}
	}
	logger.Info("pipeline: done", attrs...)
}
