package streamcache

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"sync"
)

const ioBufferSize = 64 << 10

// spillWriter appends encoded items to a backing file it owns until finish
// or abort.
type spillWriter[T any] struct {
	codec   Codec[T]
	f       *os.File
	fw      frameWriter
	payload []byte
	rows    int64
}

func createSpill[T any](codec Codec[T], o options) (*spillWriter[T], error) {
	var (
		f   *os.File
		err error
	)
	if o.path != "" {
		f, err = os.OpenFile(o.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, &ResourceError{Op: "create", Path: o.path, Err: err}
		}
	} else {
		f, err = os.CreateTemp(o.dir, "streamcache-*.bin")
		if err != nil {
			return nil, &ResourceError{Op: "create", Path: o.dir, Err: err}
		}
	}
	return &spillWriter[T]{
		codec: codec,
		f:     f,
		fw:    frameWriter{w: bufio.NewWriterSize(f, ioBufferSize)},
	}, nil
}

func (w *spillWriter[T]) path() string { return w.f.Name() }

func (w *spillWriter[T]) write(v T) error {
	var err error
	w.payload, err = w.codec.Append(w.payload[:0], v)
	if err != nil {
		return err
	}
	if err := w.fw.write(w.payload); err != nil {
		return &ResourceError{Op: "write", Path: w.path(), Err: err}
	}
	w.rows++
	return nil
}

func (w *spillWriter[T]) finish() error {
	if err := w.fw.w.Flush(); err != nil {
		_ = w.f.Close()
		return &ResourceError{Op: "write", Path: w.path(), Err: err}
	}
	if err := w.f.Close(); err != nil {
		return &ResourceError{Op: "close", Path: w.path(), Err: err}
	}
	return nil
}

// abort closes and removes a partially written file.
func (w *spillWriter[T]) abort(logger *slog.Logger) {
	_ = w.f.Close()
	_ = removeBacking(w.path(), logger)
}

// removeBacking deletes path. A missing file is not an error; any other
// failure is logged and returned, never panics.
func removeBacking(path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	logger.Warn("streamcache: cannot remove backing file", "path", path, "err", err)
	return &ResourceError{Op: "remove", Path: path, Err: err}
}

// replayFile decodes path frame by frame into yield. The file handle is
// private to this call and closed when it returns, including when the
// consumer stops early.
func replayFile[T any](path string, codec Codec[T], yield func(T, error) bool) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		yield(zero, &ResourceError{Op: "open", Path: path, Err: err})
		return
	}
	defer f.Close()
	adviseSequential(f)

	fr := frameReader{r: bufio.NewReaderSize(f, ioBufferSize)}
	for {
		payload, err := fr.next()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(zero, err)
			return
		}
		v, err := codec.Decode(payload)
		if err != nil {
			yield(zero, err)
			return
		}
		if !yield(v, nil) {
			return
		}
	}
}

// FileCache stores every item in a backing file and decodes it again on each
// Replay. The cache owns the file exclusively and removes it on Close.
type FileCache[T any] struct {
	codec Codec[T]
	opts  options

	mu      sync.RWMutex
	state   state
	fillErr error
	path    string
	rows    int64
	bytes   int64
}

// NewFileCache returns an empty cache encoding items with codec.
func NewFileCache[T any](codec Codec[T], opts ...Option) *FileCache[T] {
	return &FileCache[T]{codec: codec, opts: buildOptions(opts)}
}

// Fill writes src to a new backing file. On failure the partial file is
// removed and the cache stays unusable.
func (c *FileCache[T]) Fill(src iter.Seq2[T, error]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateEmpty:
	case stateClosed:
		return ErrClosed
	default:
		return ErrAlreadyFilled
	}

	w, err := createSpill(c.codec, c.opts)
	if err != nil {
		c.state, c.fillErr = stateFailed, err
		return err
	}
	for v, err := range src {
		if err == nil {
			err = w.write(v)
		}
		if err != nil {
			w.abort(c.opts.logger)
			c.state, c.fillErr = stateFailed, err
			return err
		}
	}
	if err := w.finish(); err != nil {
		_ = removeBacking(w.path(), c.opts.logger)
		c.state, c.fillErr = stateFailed, err
		return err
	}
	c.adopt(w)
	return nil
}

// adopt takes ownership of a finished spill file.
func (c *FileCache[T]) adopt(w *spillWriter[T]) {
	c.state = stateFilled
	c.path = w.path()
	c.rows = w.rows
	c.bytes = w.fw.n
}

// Replay returns a sequence over the cached items. The cache state is
// checked when iteration starts, not when Replay is called.
func (c *FileCache[T]) Replay() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		c.mu.RLock()
		err := c.state.check(c.fillErr)
		path := c.path
		c.mu.RUnlock()
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		replayFile(path, c.codec, yield)
	}
}

func (c *FileCache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Rows: c.rows, Spilled: c.rows, Bytes: c.bytes, Path: c.path}
}

// Path returns the backing file once filled, or "".
func (c *FileCache[T]) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Close removes the backing file. Replays already reading keep their open
// handle until they finish; new replays fail with ErrClosed.
func (c *FileCache[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	path := c.path
	c.path = ""
	return removeBacking(path, c.opts.logger)
}

var _ Cache[[]string] = (*FileCache[[]string])(nil)
