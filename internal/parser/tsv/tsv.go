// Package tsv splits tab-separated crawl dumps into raw columns.
//
// Crawl dumps are written without quoting: a tab always separates columns
// and a newline always ends a row. Rows may be shorter than the field list
// of their stream (older files predate appended columns); Split yields them
// as is and leaves padding to the caster.
package tsv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"crawlstream/internal/config"
)

// Options configures Split. The zero value reads UTF-8 without a header.
type Options struct {
	// HasHeader skips the first line.
	HasHeader bool

	// TrimSpace trims leading/trailing spaces from every column.
	TrimSpace bool

	// Latin1 decodes the input as ISO-8859-1 instead of UTF-8.
	Latin1 bool

	// ProgressEvery logs a heartbeat every N rows; 0 disables it.
	ProgressEvery int

	// Logger receives progress heartbeats. Default slog.Default().
	Logger *slog.Logger
}

// OptionsFrom reads parser options from a stream file.
func OptionsFrom(o config.Options) Options {
	enc := strings.ToLower(o.String("encoding", "utf-8"))
	return Options{
		HasHeader: o.Bool("has_header", false),
		TrimSpace: o.Bool("trim_space", false),
		Latin1:    enc == "latin-1" || enc == "latin1" || enc == "iso-8859-1",

		ProgressEvery: o.Int("progress_every", 0),
	}
}

// decoder strips a leading byte order mark and, for Latin-1 input, maps
// every byte to its code point.
func decoder(r io.Reader, latin1 bool) io.Reader {
	if latin1 {
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	}
	return transform.NewReader(r, unicode.BOMOverride(transform.Nop))
}

// Split returns a lazy sequence of rows read from r. Each yielded slice is
// freshly allocated and owned by the consumer. Empty lines are skipped. A
// read error or context cancellation is yielded once and ends the sequence.
//
// The sequence reads r directly and is therefore single pass.
func Split(ctx context.Context, r io.Reader, opt Options) iter.Seq2[[]string, error] {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(yield func([]string, error) bool) {
		br := bufio.NewReaderSize(decoder(r, opt.Latin1), 64*1024)
		line, rows := 0, 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			s, err := br.ReadString('\n')
			if err != nil && err != io.EOF {
				yield(nil, fmt.Errorf("tsv: line %d: %w", line+1, err))
				return
			}
			if s == "" && err == io.EOF {
				return
			}
			line++

			s = strings.TrimSuffix(s, "\n")
			s = strings.TrimSuffix(s, "\r")
			switch {
			case line == 1 && opt.HasHeader:
			case s == "":
			default:
				cols := strings.Split(s, "\t")
				if opt.TrimSpace {
					for i, c := range cols {
						cols[i] = strings.TrimSpace(c)
					}
				}
				if !yield(cols, nil) {
					return
				}
				rows++
				if opt.ProgressEvery > 0 && rows%opt.ProgressEvery == 0 {
					logger.Info("tsv: progress", "line", line, "rows", rows)
				}
			}
			if err == io.EOF {
				return
			}
		}
	}
}
