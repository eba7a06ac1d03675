package streamcache

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawlstream/internal/caster"
)

func sampleRows(t *testing.T) []caster.Row {
	t.Helper()
	var rows []caster.Row
	for _, xs := range [][]any{
		{1, 2, "a"},
		{4, 5, "b"},
		{7, 8, "c"},
	} {
		r, err := caster.RowOf(xs...)
		require.NoError(t, err)
		rows = append(rows, r)
	}
	return rows
}

func mixedRows(t *testing.T, n int) []caster.Row {
	t.Helper()
	rows := make([]caster.Row, n)
	for i := range rows {
		r, err := caster.RowOf(
			int64(i)-int64(n/2),
			float64(i)/3,
			fmt.Sprintf("http://www.site.com/%d\tx", i),
			i%2 == 0,
			time.Date(2020, 1, 1+i%28, 0, 0, 0, 0, time.UTC),
			nil,
		)
		require.NoError(t, err)
		rows[i] = r
	}
	return rows
}

type cacheCase struct {
	name string
	make func(t *testing.T) Cache[caster.Row]
}

func cacheCases() []cacheCase {
	buffered := func(size int) func(t *testing.T) Cache[caster.Row] {
		return func(t *testing.T) Cache[caster.Row] {
			c, err := NewBufferedCache[caster.Row](RowCodec{}, size, WithDir(t.TempDir()))
			require.NoError(t, err)
			return c
		}
	}
	return []cacheCase{
		{"file", func(t *testing.T) Cache[caster.Row] {
			return NewFileCache[caster.Row](RowCodec{}, WithDir(t.TempDir()))
		}},
		{"buffered default", buffered(1000)},
		{"buffered 0", buffered(0)},
		{"buffered 1", buffered(1)},
		{"buffered 2", buffered(2)},
		{"buffered 3", buffered(3)},
		{"buffered 100", buffered(100)},
		{"memory", func(t *testing.T) Cache[caster.Row] { return NewMemoryCache[caster.Row]() }},
	}
}

func TestCache_RoundTripAndIdempotentReplay(t *testing.T) {
	for _, data := range [][]caster.Row{sampleRows(t), mixedRows(t, 50)} {
		for _, tc := range cacheCases() {
			t.Run(fmt.Sprintf("%s/%d", tc.name, len(data)), func(t *testing.T) {
				c := tc.make(t)
				defer c.Close()
				require.NoError(t, c.Fill(Slice(data)))

				first, err := Collect(c.Replay())
				require.NoError(t, err)
				assert.Equal(t, data, first)

				second, err := Collect(c.Replay())
				require.NoError(t, err)
				assert.Equal(t, data, second)

				assert.Equal(t, int64(len(data)), c.Stats().Rows)
			})
		}
	}
}

func TestCache_Empty(t *testing.T) {
	for _, tc := range cacheCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.make(t)
			defer c.Close()
			require.NoError(t, c.Fill(Slice[caster.Row](nil)))
			got, err := Collect(c.Replay())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestCache_Misuse(t *testing.T) {
	for _, tc := range cacheCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.make(t)
			_, err := Collect(c.Replay())
			assert.ErrorIs(t, err, ErrNotFilled)

			require.NoError(t, c.Fill(Slice(sampleRows(t))))
			assert.ErrorIs(t, c.Fill(Slice(sampleRows(t))), ErrAlreadyFilled)

			require.NoError(t, c.Close())
			require.NoError(t, c.Close())
			_, err = Collect(c.Replay())
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, c.Fill(Slice(sampleRows(t))), ErrClosed)
		})
	}
}

func TestCache_FailedFill(t *testing.T) {
	boom := errors.New("upstream broke")
	src := func(yield func(caster.Row, error) bool) {
		for _, r := range sampleRows(t) {
			if !yield(r, nil) {
				return
			}
		}
		yield(nil, boom)
	}
	for _, tc := range cacheCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.make(t)
			defer c.Close()
			assert.ErrorIs(t, c.Fill(src), boom)
			assert.ErrorIs(t, c.Fill(Slice(sampleRows(t))), ErrAlreadyFilled)
			_, err := Collect(c.Replay())
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestCache_IndependentCursors(t *testing.T) {
	data := mixedRows(t, 20)
	for _, tc := range cacheCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.make(t)
			defer c.Close()
			require.NoError(t, c.Fill(Slice(data)))

			// Interleave two pulled cursors and abandon a third midway.
			next1, stop1 := iter.Pull2(c.Replay())
			defer stop1()
			next2, stop2 := iter.Pull2(c.Replay())
			defer stop2()
			next3, stop3 := iter.Pull2(c.Replay())
			_, _, _ = next3()
			stop3()

			for i := range data {
				r1, err, ok := next1()
				require.True(t, ok)
				require.NoError(t, err)
				r2, err, ok := next2()
				require.True(t, ok)
				require.NoError(t, err)
				assert.Equal(t, data[i], r1)
				assert.Equal(t, data[i], r2)
			}
			_, _, ok := next1()
			assert.False(t, ok)

			got, err := Collect(c.Replay())
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestCache_ConcurrentReplays(t *testing.T) {
	data := mixedRows(t, 200)
	for _, tc := range cacheCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.make(t)
			defer c.Close()
			require.NoError(t, c.Fill(Slice(data)))

			var wg sync.WaitGroup
			errs := make([]error, 8)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					got, err := Collect(c.Replay())
					if err == nil && len(got) != len(data) {
						err = fmt.Errorf("got %d rows", len(got))
					}
					errs[i] = err
				}(i)
			}
			wg.Wait()
			for _, err := range errs {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileCache_RemovesFileOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cachefile")
	c := NewFileCache[caster.Row](RowCodec{}, WithPath(path))
	require.NoError(t, c.Fill(Slice(sampleRows(t))))
	assert.FileExists(t, path)
	assert.Equal(t, path, c.Path())
	assert.Equal(t, path, c.Stats().Path)
	assert.Positive(t, c.Stats().Bytes)

	require.NoError(t, c.Close())
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileCache_TempFileInDir(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache[caster.Row](RowCodec{}, WithDir(dir))
	require.NoError(t, c.Fill(Slice(sampleRows(t))))
	assert.Equal(t, dir, filepath.Dir(c.Path()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, c.Close())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileCache_FailedFillRemovesFile(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache[caster.Row](RowCodec{}, WithDir(dir))
	src := func(yield func(caster.Row, error) bool) {
		r, _ := caster.RowOf(1)
		if !yield(r, nil) {
			return
		}
		yield(nil, errors.New("stop"))
	}
	require.Error(t, c.Fill(src))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileCache_CreateFailure(t *testing.T) {
	c := NewFileCache[caster.Row](RowCodec{}, WithPath(filepath.Join(t.TempDir(), "missing", "cachefile")))
	err := c.Fill(Slice(sampleRows(t)))
	var re *ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "create", re.Op)
}

func TestFileCache_CloseAfterExternalRemoval(t *testing.T) {
	c := NewFileCache[caster.Row](RowCodec{}, WithDir(t.TempDir()))
	require.NoError(t, c.Fill(Slice(sampleRows(t))))
	require.NoError(t, os.Remove(c.Path()))
	assert.NoError(t, c.Close())
}

func TestFileCache_Corruption(t *testing.T) {
	c := NewFileCache[caster.Row](RowCodec{}, WithDir(t.TempDir()))
	defer c.Close()
	require.NoError(t, c.Fill(Slice(sampleRows(t))))

	b, err := os.ReadFile(c.Path())
	require.NoError(t, err)
	b[3] ^= 0xff
	require.NoError(t, os.WriteFile(c.Path(), b, 0o600))

	_, err = Collect(c.Replay())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBufferedCache_SpillLayout(t *testing.T) {
	data := sampleRows(t)
	tests := []struct {
		size              int
		buffered, spilled int64
		hasFile           bool
	}{
		{0, 0, 3, true},
		{2, 2, 1, true},
		{3, 3, 0, false},
		{100, 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.size), func(t *testing.T) {
			dir := t.TempDir()
			c, err := NewBufferedCache[caster.Row](RowCodec{}, tt.size, WithDir(dir))
			require.NoError(t, err)
			require.NoError(t, c.Fill(Slice(data)))

			st := c.Stats()
			assert.Equal(t, tt.buffered, st.Buffered)
			assert.Equal(t, tt.spilled, st.Spilled)
			assert.Equal(t, tt.hasFile, st.Path != "")

			require.NoError(t, c.Close())
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestNewBufferedCache_NegativeSize(t *testing.T) {
	_, err := NewBufferedCache[caster.Row](RowCodec{}, -1)
	assert.Error(t, err)
}

func TestStringsCache(t *testing.T) {
	data := [][]string{{"1", "http://www.site.com/", ""}, {}, {"2", "http://www.site.com/a\tb"}}
	c, err := NewBufferedCache[[]string](StringsCodec{}, 1, WithDir(t.TempDir()))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Fill(Slice(data)))
	got, err := Collect(c.Replay())
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAdviseSequential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hint.bin")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	adviseSequential(f)
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(b))
}
