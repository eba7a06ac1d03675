// Package streamcache materializes a one-pass lazy sequence so that it can be
// replayed any number of times by independent consumers.
//
// A cache starts empty, is filled exactly once, and is then read through
// Replay. Every Replay call returns a fresh sequence with its own cursor
// starting at the first item; consumers may stop pulling at any time. Close
// releases the backing file, if any; call it on every exit path of the scope
// that created the cache:
//
//	c := streamcache.NewFileCache[caster.Row](streamcache.RowCodec{})
//	defer c.Close()
//	if err := c.Fill(rows); err != nil {
//		return err
//	}
//	for row, err := range c.Replay() { ... }
//
// Fill must not run concurrently with Replay. Replays may run concurrently
// with each other.
package streamcache

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

var (
	// ErrAlreadyFilled is returned by a second Fill on the same cache.
	ErrAlreadyFilled = errors.New("streamcache: already filled")
	// ErrNotFilled is yielded by a Replay of a cache that was never filled.
	ErrNotFilled = errors.New("streamcache: not filled")
	// ErrClosed is returned when using a cache after Close.
	ErrClosed = errors.New("streamcache: closed")
	// ErrCorrupt is yielded when the backing file does not decode.
	ErrCorrupt = errors.New("streamcache: corrupt cache file")
)

// ResourceError reports a failure to create, open or remove a backing file.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("streamcache: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Cache is the common contract of the file-backed and buffered caches.
type Cache[T any] interface {
	// Fill consumes src to its end. It may be called once; an error from src
	// or from writing fails the cache and is returned as is.
	Fill(src iter.Seq2[T, error]) error
	// Replay returns an independent sequence over the filled items, in fill
	// order.
	Replay() iter.Seq2[T, error]
	Stats() Stats
	// Close releases backing storage. It is safe to call more than once.
	Close() error
}

// Stats describes a filled cache.
type Stats struct {
	Rows     int64  // items filled
	Buffered int64  // items held in memory
	Spilled  int64  // items written to the backing file
	Bytes    int64  // size of the backing file
	Path     string // backing file, empty when nothing was spilled
}

type state uint8

const (
	stateEmpty state = iota
	stateFilled
	stateFailed
	stateClosed
)

// check returns the error a Replay must yield for st, or nil when the cache
// is readable.
func (st state) check(fillErr error) error {
	switch st {
	case stateFilled:
		return nil
	case stateEmpty:
		return ErrNotFilled
	case stateFailed:
		return fmt.Errorf("streamcache: fill failed: %w", fillErr)
	default:
		return ErrClosed
	}
}

// Option configures a cache.
type Option func(*options)

type options struct {
	path   string
	dir    string
	logger *slog.Logger
}

// WithPath sets the backing file path. The cache truncates the file on Fill
// and removes it on Close.
func WithPath(path string) Option { return func(o *options) { o.path = path } }

// WithDir sets the directory for generated backing files. Default is
// os.TempDir().
func WithDir(dir string) Option { return func(o *options) { o.dir = dir } }

// WithLogger sets the logger used for cleanup and spill events.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Slice adapts xs into a fill source.
func Slice[T any](xs []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range xs {
			if !yield(x, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
