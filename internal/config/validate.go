package config

// This file adds a lightweight linter for Stream values. It performs static
// checks over a decoded Stream and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.

import (
	"errors"
	"fmt"
	"strings"

	"crawlstream/internal/caster"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced but does not
	// block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "fields[2].options"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains at least one SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateStream performs static validation of s. It does not mutate s.
//
//	s, err := config.Load(path)
//	if err != nil { ... }
//	for _, iss := range config.ValidateStream(s) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidateStream(s Stream) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateSource(s.Source)...)
	issues = append(issues, validateParser(s.Parser)...)
	issues = append(issues, validateFields(s.Fields)...)
	issues = append(issues, validateCache(s.Cache)...)
	issues = append(issues, validateStorage(s.Storage)...)
	issues = append(issues, validateRuntime(s.Runtime)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	switch s.Kind {
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.file.path",
				Message:  "file source requires a non-empty path",
			})
		}
	case "http":
		u := strings.TrimSpace(s.HTTP.URL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.url",
				Message:  fmt.Sprintf("http source requires an http(s) url, got %q", s.HTTP.URL),
			})
		}
		if s.HTTP.Retries < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.retries",
				Message:  "retries must not be negative",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q; supported: file, http", s.Kind),
		})
	}

	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	switch p.Kind {
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  "parser.kind must not be empty",
		})
	case "tsv":
		switch enc := strings.ToLower(p.Options.String("encoding", "utf-8")); enc {
		case "utf-8", "utf8", "latin-1", "latin1", "iso-8859-1":
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "parser.options.encoding",
				Message:  fmt.Sprintf("unsupported encoding %q", enc),
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unknown parser kind %q; supported: tsv", p.Kind),
		})
	}

	return issues
}

func validateFields(fields []Field) []Issue {
	var issues []Issue

	if len(fields) == 0 {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "fields",
			Message:  "at least one field is required",
		})
	}

	seen := make(map[string]int, len(fields))
	for i, f := range fields {
		path := fmt.Sprintf("fields[%d]", i)
		if strings.TrimSpace(f.Name) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".name",
				Message:  "field name must not be empty",
			})
			continue
		}
		if j, dup := seen[f.Name]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".name",
				Message:  fmt.Sprintf("duplicate field %q (first declared at fields[%d])", f.Name, j),
			})
		}
		seen[f.Name] = i

		if _, err := f.FieldDef(); err != nil {
			var se *caster.SchemaError
			msg := err.Error()
			if errors.As(err, &se) {
				msg = se.Reason
			}
			sub := ".options"
			if _, ok := caster.ConverterByName(f.Type, f.Layout); !ok {
				sub = ".type"
			}
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + sub,
				Message:  msg,
			})
		}
	}

	return issues
}

func validateCache(c Cache) []Issue {
	var issues []Issue

	switch c.Kind {
	case "", CacheBuffered:
		if c.Size() < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "cache.buffer_size",
				Message:  "buffer_size must not be negative",
			})
		}
	case CacheFile:
		if c.BufferSize != nil {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "cache.buffer_size",
				Message:  "buffer_size is ignored by the file cache",
			})
		}
	case CacheMemory:
		if c.Path != "" || c.Dir != "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "cache",
				Message:  "path and dir are ignored by the memory cache",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "cache.kind",
			Message:  fmt.Sprintf("unknown cache kind %q; supported: file, buffered, memory", c.Kind),
		})
	}
	if c.Path != "" && c.Dir != "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "cache.dir",
			Message:  "dir is ignored when path is set",
		})
	}

	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	switch s.Kind {
	case "", "none":
		return issues
	case "sqlite", "postgres":
	default:
		return append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}

	if strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "storage.db.dsn must not be empty",
		})
	}
	if strings.TrimSpace(s.DB.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.table",
			Message:  "storage.db.table must not be empty",
		})
	}

	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	if r.ProgressEvery < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.progress_every",
			Message:  "progress_every must not be negative",
		})
	}

	return issues
}
