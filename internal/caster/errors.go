package caster

import "fmt"

// CastError reports a raw value that could not be converted to its field's
// type. Row is the 0-based index of the row in the cast pass, or -1 when the
// value was cast outside of a row pass.
type CastError struct {
	Field string
	Raw   Raw
	Row   int
	Err   error
}

func (e *CastError) Error() string {
	raw := "<absent>"
	if !e.Raw.IsAbsent() {
		raw = fmt.Sprintf("%q", e.Raw.String())
	}
	if e.Row >= 0 {
		return fmt.Sprintf("cast row %d field %q: raw %s: %v", e.Row, e.Field, raw, e.Err)
	}
	return fmt.Sprintf("cast field %q: raw %s: %v", e.Field, raw, e.Err)
}

func (e *CastError) Unwrap() error { return e.Err }

// SchemaError reports a malformed field definition list. It is returned at
// construction time, before any row is processed.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
}
