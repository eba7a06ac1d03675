package streamcache

import (
	"fmt"
	"iter"
	"sync"

	"github.com/dustin/go-humanize"
)

// BufferedCache keeps the first bufferSize items in memory and spills the
// rest to a backing file. Replay yields the memory prefix and then the
// spilled suffix as one sequence.
//
// Items from the memory prefix are shared by all replays; consumers must not
// modify them.
type BufferedCache[T any] struct {
	codec Codec[T]
	size  int // < 0 means unbounded
	opts  options

	mu      sync.RWMutex
	state   state
	fillErr error
	mem     []T
	spill   *FileCache[T]
}

// NewBufferedCache returns an empty cache holding up to bufferSize items in
// memory. bufferSize 0 spills everything. codec is only used when items
// spill.
func NewBufferedCache[T any](codec Codec[T], bufferSize int, opts ...Option) (*BufferedCache[T], error) {
	if bufferSize < 0 {
		return nil, fmt.Errorf("streamcache: negative buffer size %d", bufferSize)
	}
	return &BufferedCache[T]{codec: codec, size: bufferSize, opts: buildOptions(opts)}, nil
}

// NewMemoryCache returns a cache that never spills.
func NewMemoryCache[T any](opts ...Option) *BufferedCache[T] {
	return &BufferedCache[T]{size: -1, opts: buildOptions(opts)}
}

func (c *BufferedCache[T]) Fill(src iter.Seq2[T, error]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateEmpty:
	case stateClosed:
		return ErrClosed
	default:
		return ErrAlreadyFilled
	}

	fail := func(err error) error {
		c.mem = nil
		c.state, c.fillErr = stateFailed, err
		return err
	}

	var w *spillWriter[T]
	for v, err := range src {
		if err != nil {
			if w != nil {
				w.abort(c.opts.logger)
			}
			return fail(err)
		}
		if c.size < 0 || len(c.mem) < c.size {
			c.mem = append(c.mem, v)
			continue
		}
		if w == nil {
			if w, err = createSpill(c.codec, c.opts); err != nil {
				return fail(err)
			}
		}
		if err := w.write(v); err != nil {
			w.abort(c.opts.logger)
			return fail(err)
		}
	}

	if w != nil {
		if err := w.finish(); err != nil {
			_ = removeBacking(w.path(), c.opts.logger)
			return fail(err)
		}
		c.spill = &FileCache[T]{codec: c.codec, opts: c.opts}
		c.spill.adopt(w)
		c.opts.logger.Debug("streamcache: spilled to disk",
			"path", w.path(),
			"buffered", len(c.mem),
			"spilled", w.rows,
			"size", humanize.Bytes(uint64(w.fw.n)),
		)
	}
	c.state = stateFilled
	return nil
}

func (c *BufferedCache[T]) Replay() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		c.mu.RLock()
		err := c.state.check(c.fillErr)
		mem, spill := c.mem, c.spill
		c.mu.RUnlock()
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for _, v := range mem {
			if !yield(v, nil) {
				return
			}
		}
		if spill == nil {
			return
		}
		for v, err := range spill.Replay() {
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

func (c *BufferedCache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{Buffered: int64(len(c.mem))}
	if c.spill != nil {
		sp := c.spill.Stats()
		st.Spilled, st.Bytes, st.Path = sp.Rows, sp.Bytes, sp.Path
	}
	st.Rows = st.Buffered + st.Spilled
	return st
}

// Close drops the memory prefix and removes the spill file, if any.
func (c *BufferedCache[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	c.mem = nil
	if c.spill == nil {
		return nil
	}
	err := c.spill.Close()
	c.spill = nil
	return err
}

var _ Cache[[]string] = (*BufferedCache[[]string])(nil)
