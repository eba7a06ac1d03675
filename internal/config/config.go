// Package config defines the configuration model of a crawlstream run: one
// tab-separated stream (source, parser, field list), the cache it is staged
// in, and the sink it is loaded into.
//
// Stream files are JSON or YAML. Fields accept the compact tuple forms used
// in hand-written stream definitions as well as an object form:
//
//	{
//	  "job":     "infos",
//	  "source":  { "kind": "file", "file": { "path": "data/infos.tsv" } },
//	  "parser":  { "kind": "tsv", "options": { "has_header": false } },
//	  "fields": [
//	    ["id", "int"],
//	    ["url", "string"],
//	    ["lang", "string", { "missing": "nolang" }],
//	    { "name": "fetched", "type": "date", "layout": "2006-01-02" }
//	  ],
//	  "cache":   { "kind": "buffered", "buffer_size": 1000 },
//	  "storage": { "kind": "sqlite", "db": { "dsn": "crawl.db", "table": "infos", "auto_create_table": true } }
//	}
package config

import (
	"encoding/json"
)

// Stream is the top-level object decoded from a stream file.
type Stream struct {
	// Job names the run in logs and metrics.
	Job string `json:"job" yaml:"job"`

	Source Source `json:"source" yaml:"source"`
	Parser Parser `json:"parser" yaml:"parser"`

	// Fields lists the columns in file order.
	Fields []Field `json:"fields" yaml:"fields"`

	Cache   Cache         `json:"cache" yaml:"cache"`
	Storage Storage       `json:"storage" yaml:"storage"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// RuntimeConfig controls batching and progress logging.
type RuntimeConfig struct {
	BatchSize     int `json:"batch_size" yaml:"batch_size"`
	ProgressEvery int `json:"progress_every" yaml:"progress_every"`
}

// Source identifies where the stream is read from.
type Source struct {
	// Kind selects the source implementation: "file" or "http".
	Kind string `json:"kind" yaml:"kind"`

	File SourceFile `json:"file" yaml:"file"`
	HTTP SourceHTTP `json:"http" yaml:"http"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
}

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL string `json:"url" yaml:"url"`
	// TimeoutSeconds bounds a single request; 0 means the client default.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
	// Retries is the number of extra attempts on 5xx/429 responses.
	Retries int `json:"retries" yaml:"retries"`
}

// Parser selects how raw bytes are split into columns.
type Parser struct {
	// Kind selects the parser implementation. Current value: "tsv".
	Kind string `json:"kind" yaml:"kind"`

	// Options is interpreted by the parser. For tsv: has_header (bool),
	// trim_space (bool), encoding ("utf-8" or "latin-1") and progress_every
	// (int, overrides runtime.progress_every).
	Options Options `json:"options" yaml:"options"`
}

// Cache kinds.
const (
	CacheFile     = "file"
	CacheBuffered = "buffered"
	CacheMemory   = "memory"
)

// DefaultBufferSize is the memory prefix of a buffered cache when
// buffer_size is not set.
const DefaultBufferSize = 1000

// Cache selects how the cast stream is staged for replay.
type Cache struct {
	// Kind is "file", "buffered" (default) or "memory".
	Kind string `json:"kind" yaml:"kind"`

	// BufferSize is the number of rows kept in memory by a buffered cache.
	// nil means DefaultBufferSize; 0 spills every row.
	BufferSize *int `json:"buffer_size" yaml:"buffer_size"`

	// Path pins the backing file. Dir sets where generated files go.
	Path string `json:"path" yaml:"path"`
	Dir  string `json:"dir" yaml:"dir"`
}

// Size returns the effective buffer size.
func (c Cache) Size() int {
	if c.BufferSize == nil {
		return DefaultBufferSize
	}
	return *c.BufferSize
}

// Storage selects the sink the cast rows are loaded into.
type Storage struct {
	// Kind is "sqlite", "postgres" or "none".
	Kind string `json:"kind" yaml:"kind"`

	DB DBConfig `json:"db" yaml:"db"`
}

// DBConfig configures a database sink. Columns are taken from the stream's
// fields.
type DBConfig struct {
	// DSN is the driver connection string (a file path for sqlite, a
	// postgresql:// URL for postgres).
	DSN string `json:"dsn" yaml:"dsn"`

	// Table is the destination table, optionally schema qualified.
	Table string `json:"table" yaml:"table"`

	// AutoCreateTable creates the table from the field types when missing.
	AutoCreateTable bool `json:"auto_create_table" yaml:"auto_create_table"`
}

// Options is a small helper to fetch typed values from free-form option maps
// decoded from JSON or YAML. It performs only minimal type coercion and
// returns the provided default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64
// and YAML integers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// UnmarshalJSON decodes a missing or null object to an empty, non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
