package storage

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"crawlstream/internal/caster"
	"crawlstream/internal/metrics"
)

// DefaultBatchSize is used when LoadOptions.BatchSize is not positive.
const DefaultBatchSize = 5000

// LoadOptions tunes LoadRows.
type LoadOptions struct {
	BatchSize int

	// Job labels the emitted metrics.
	Job string

	Logger *slog.Logger
}

// LoadStats reports what LoadRows wrote.
type LoadStats struct {
	Rows    int64
	Batches int64
	Elapsed time.Duration
}

// LoadRows drains rows into repo in batches of opt.BatchSize and calls
// CopyFrom for each non-empty batch. It stops at the first error from the
// sequence or the repository and returns the totals written so far.
//
// On every successful flush a progress line with running totals and the rate
// since the previous flush is logged.
func LoadRows(
	ctx context.Context,
	repo Repository,
	columns []string,
	rows iter.Seq2[caster.Row, error],
	opt LoadOptions,
) (LoadStats, error) {
	if repo == nil {
		return LoadStats{}, fmt.Errorf("storage: LoadRows: nil repository")
	}
	if len(columns) == 0 {
		return LoadStats{}, fmt.Errorf("storage: LoadRows: columns must not be empty")
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		stats     LoadStats
		batch     = make([][]any, 0, opt.BatchSize)
		start     = time.Now()
		lastFlush = start
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := repo.CopyFrom(ctx, columns, batch)
		stats.Rows += n
		metrics.RecordRows(opt.Job, metrics.RowsLoaded, n)
		batch = batch[:0]
		if err != nil {
			logger.Error("loader: copy failed", "inserted", n, "total", stats.Rows, "err", err)
			return err
		}

		stats.Batches++
		metrics.RecordBatches(opt.Job, 1)
		now := time.Now()
		since := now.Sub(lastFlush)
		rps := float64(0)
		if since > 0 {
			rps = float64(n) / since.Seconds()
		}
		logger.Info("loader: batch",
			"batch", stats.Batches,
			"inserted", n,
			"total", humanize.Comma(stats.Rows),
			"rps", fmt.Sprintf("%.0f", rps),
			"elapsed", now.Sub(start).Truncate(time.Millisecond),
		)
		lastFlush = now
		return nil
	}

	for row, err := range rows {
		if err != nil {
			stats.Elapsed = time.Since(start)
			return stats, err
		}
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, err
		}
		if len(row) != len(columns) {
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("storage: LoadRows: row has %d cells, want %d", len(row), len(columns))
		}
		batch = append(batch, row.Values())
		if len(batch) >= opt.BatchSize {
			if err := flush(); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, err
			}
		}
	}
	err := flush()
	stats.Elapsed = time.Since(start)
	if err != nil {
		return stats, err
	}
	logger.Info("loader: done", "rows", humanize.Comma(stats.Rows), "batches", stats.Batches, "elapsed", stats.Elapsed.Truncate(time.Millisecond))
	return stats, nil
}
