package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawlstream/internal/caster"
	"crawlstream/internal/config"
	"crawlstream/internal/datasource"
	"crawlstream/internal/storage"
	"crawlstream/internal/storage/sqlite"
)

const infosTSV = "1\thttp://www.site.com\t1\ten\t0.5\n" +
	"2\thttp://www.site.com/page.html\t0\n" +
	"3\thttp://www.site.com/x\t\t\t\n"

func infosStream(t *testing.T, data string) config.Stream {
	t.Helper()
	path := filepath.Join(t.TempDir(), "infos.tsv")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return config.Stream{
		Job:    "infos",
		Source: config.Source{Kind: "file", File: config.SourceFile{Path: path}},
		Parser: config.Parser{Kind: "tsv", Options: config.Options{}},
		Fields: []config.Field{
			{Name: "id", Type: "int"},
			{Name: "url", Type: "string"},
			{Name: "gzipped", Type: "bool"},
			{Name: "lang", Type: "string", Options: config.Options{"missing": "nolang"}},
			{Name: "score", Type: "float", Options: config.Options{"missing": nil, "default": nil}},
		},
		Storage: config.Storage{Kind: "none"},
	}
}

func bufferSize(n int) *int { return &n }

func TestRun_SQLite(t *testing.T) {
	s := infosStream(t, infosTSV)
	dsn := filepath.Join(t.TempDir(), "crawl.db")
	s.Storage = config.Storage{Kind: "sqlite", DB: config.DBConfig{DSN: dsn, Table: "infos", AutoCreateTable: true}}
	s.Runtime.BatchSize = 2

	res, err := Run(context.Background(), s, config.Settings{TmpDir: t.TempDir()})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.EqualValues(t, 3, res.Cache.Rows)
	assert.EqualValues(t, 3, res.Loaded.Rows)
	assert.EqualValues(t, 2, res.Loaded.Batches)
	assert.EqualValues(t, 3, res.Summary.Rows)
	assert.Equal(t, []int64{0, 0, 0, 0, 2}, res.Summary.Nulls)

	db, err := sqlite.Open(dsn)
	require.NoError(t, err)
	defer db.Close()

	var langs []string
	rows, err := db.Query(`SELECT lang FROM infos ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var l string
		require.NoError(t, rows.Scan(&l))
		langs = append(langs, l)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"en", "nolang", ""}, langs)
}

func TestRun_CacheKinds(t *testing.T) {
	cases := map[string]config.Cache{
		"default":      {},
		"file":         {Kind: config.CacheFile},
		"buffered 0":   {Kind: config.CacheBuffered, BufferSize: bufferSize(0)},
		"buffered 1":   {Kind: config.CacheBuffered, BufferSize: bufferSize(1)},
		"buffered 100": {Kind: config.CacheBuffered, BufferSize: bufferSize(100)},
		"memory":       {Kind: config.CacheMemory},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			s := infosStream(t, infosTSV)
			s.Cache = c
			tmp := t.TempDir()

			res, err := Run(context.Background(), s, config.Settings{TmpDir: tmp})
			require.NoError(t, err)
			assert.EqualValues(t, 3, res.Summary.Rows)
			assert.EqualValues(t, 3, res.Cache.Rows)
			assert.EqualValues(t, 0, res.Loaded.Rows)

			left, err := os.ReadDir(tmp)
			require.NoError(t, err)
			assert.Empty(t, left, "cache files must be removed when Run returns")
		})
	}
}

func TestRun_CastErrorFailsFast(t *testing.T) {
	s := infosStream(t, "1\thttp://a\t1\n"+"x\thttp://b\t0\n"+"3\thttp://c\t0\n")
	s.Cache = config.Cache{Kind: config.CacheFile}
	tmp := t.TempDir()

	loads := 0
	prev := newRepositoryFn
	newRepositoryFn = func(context.Context, storage.Config) (storage.Repository, error) {
		return countingRepo{n: &loads}, nil
	}
	t.Cleanup(func() { newRepositoryFn = prev })
	s.Storage = config.Storage{Kind: "fake", DB: config.DBConfig{Table: "infos"}}

	_, err := Run(context.Background(), s, config.Settings{TmpDir: tmp})
	var ce *caster.CastError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "id", ce.Field)
	assert.Equal(t, 1, ce.Row)
	assert.Zero(t, loads, "no consumer may run after a failed fill")

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left)
}

type countingRepo struct{ n *int }

func (r countingRepo) CopyFrom(_ context.Context, _ []string, rows [][]any) (int64, error) {
	*r.n += len(rows)
	return int64(len(rows)), nil
}
func (countingRepo) Exec(context.Context, string) error { return nil }
func (countingRepo) Close()                             {}

func TestRun_LoaderErrorCancelsRun(t *testing.T) {
	s := infosStream(t, infosTSV)
	prev := newRepositoryFn
	boom := errors.New("disk full")
	newRepositoryFn = func(context.Context, storage.Config) (storage.Repository, error) {
		return failingRepo{err: boom}, nil
	}
	t.Cleanup(func() { newRepositoryFn = prev })
	s.Storage = config.Storage{Kind: "fake", DB: config.DBConfig{Table: "infos"}}

	_, err := Run(context.Background(), s, config.Settings{TmpDir: t.TempDir()})
	require.ErrorIs(t, err, boom)
}

type failingRepo struct{ err error }

func (r failingRepo) CopyFrom(context.Context, []string, [][]any) (int64, error) { return 0, r.err }
func (failingRepo) Exec(context.Context, string) error                          { return nil }
func (failingRepo) Close()                                                      {}

func TestRun_HTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, infosTSV)
	}))
	defer srv.Close()

	s := infosStream(t, "")
	s.Source = config.Source{Kind: "http", HTTP: config.SourceHTTP{URL: srv.URL + "/infos.tsv"}}

	res, err := Run(context.Background(), s, config.Settings{TmpDir: t.TempDir()})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Summary.Rows)
}

func TestRun_SourceError(t *testing.T) {
	s := infosStream(t, infosTSV)
	prev := openSourceFn
	openSourceFn = func(config.Source, *slog.Logger) (datasource.Source, error) {
		return nil, errors.New("no such bucket")
	}
	t.Cleanup(func() { openSourceFn = prev })

	_, err := Run(context.Background(), s, config.Settings{TmpDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such bucket")
}

func TestRun_ConfigErrors(t *testing.T) {
	base := infosStream(t, infosTSV)

	badParser := base
	badParser.Parser.Kind = "csv"
	_, err := Run(context.Background(), badParser, config.Settings{})
	assert.ErrorContains(t, err, "unsupported parser kind")

	badField := base
	badField.Fields = []config.Field{{Name: "id", Type: "decimal"}}
	_, err = Run(context.Background(), badField, config.Settings{})
	assert.ErrorContains(t, err, "fields")

	badCache := base
	badCache.Cache.Kind = "redis"
	_, err = Run(context.Background(), badCache, config.Settings{})
	assert.ErrorContains(t, err, "unknown cache kind")

	badStorage := base
	badStorage.Storage = config.Storage{Kind: "oracle", DB: config.DBConfig{Table: "t"}}
	_, err = Run(context.Background(), badStorage, config.Settings{})
	assert.ErrorContains(t, err, "unknown kind")
}

func TestSummarize_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows := func(yield func(caster.Row, error) bool) {
		for i := 0; i < 3; i++ {
			if !yield(caster.Row{caster.Int(int64(i))}, nil) {
				return
			}
		}
	}
	_, err := summarize(ctx, []string{"id"}, rows)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCounted(t *testing.T) {
	var n int64
	var seq iter.Seq2[string, error] = func(yield func(string, error) bool) {
		_ = yield("a", nil) && yield("b", nil) && yield("", errors.New("x"))
	}
	var got []string
	for v, err := range counted(seq, &n) {
		if err != nil {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, "a,b", strings.Join(got, ","))
	assert.EqualValues(t, 2, n)
}

func TestParserOptions_ProgressEvery(t *testing.T) {
	s := config.Stream{Parser: config.Parser{Kind: "tsv", Options: config.Options{}}}
	s.Runtime.ProgressEvery = 100
	assert.Equal(t, 100, parserOptions(s, slog.Default()).ProgressEvery)

	s.Parser.Options["progress_every"] = float64(10)
	opt := parserOptions(s, slog.Default())
	assert.Equal(t, 10, opt.ProgressEvery)
	assert.NotNil(t, opt.Logger)
}
