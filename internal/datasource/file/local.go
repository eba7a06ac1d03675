// Package file reads stream files from the local disk.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local opens one file path. It holds no state between calls, so each Open
// gets an independent handle.
type Local struct{ path string }

func NewLocal(path string) *Local { return &Local{path: path} }

// Open returns the file for reading. A context that is already done wins
// over the filesystem; errors keep os.ErrNotExist and friends reachable
// through errors.Is.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: is a directory", l.path)
	}
	return f, nil
}

// Path returns the configured path.
func (l *Local) Path() string { return l.path }
