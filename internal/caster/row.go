package caster

import (
	"errors"
	"fmt"
	"iter"
)

// RowCaster casts whole raw rows against an ordered field list.
//
// Rows shorter than the field list are padded with Absent, so columns
// appended to the format after older data was written resolve through their
// Missing policy. Columns beyond the field list are ignored.
type RowCaster struct {
	fields  []FieldDef
	casters []FieldCaster
}

// NewRowCaster validates defs and compiles one policy caster per field. It
// returns a *SchemaError for an empty or duplicate name or a nil converter.
func NewRowCaster(defs []FieldDef) (*RowCaster, error) {
	seen := make(map[string]struct{}, len(defs))
	casters := make([]FieldCaster, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("field %d has an empty name", i)}
		}
		if _, dup := seen[d.Name]; dup {
			return nil, &SchemaError{Field: d.Name, Reason: "duplicate field name"}
		}
		seen[d.Name] = struct{}{}
		if d.Converter == nil {
			return nil, &SchemaError{Field: d.Name, Reason: "no converter"}
		}
		casters[i] = WithPolicy(d.Name, d.Converter, d.Policy)
	}
	return &RowCaster{fields: append([]FieldDef(nil), defs...), casters: casters}, nil
}

// Fields returns a copy of the field list.
func (c *RowCaster) Fields() []FieldDef { return append([]FieldDef(nil), c.fields...) }

func (c *RowCaster) Names() []string {
	out := make([]string, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.Name
	}
	return out
}

// Kinds returns the converter kind of each field, in order.
func (c *RowCaster) Kinds() []Kind {
	out := make([]Kind, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.Converter.Kind()
	}
	return out
}

// CastRow casts one raw row. index is reported in a *CastError.
func (c *RowCaster) CastRow(index int, raw []string) (Row, error) {
	row := make(Row, len(c.casters))
	for i, fc := range c.casters {
		in := Absent
		if i < len(raw) {
			in = Present(raw[i])
		}
		v, err := fc.Cast(in)
		if err != nil {
			var ce *CastError
			if errors.As(err, &ce) {
				ce.Row = index
			}
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// Cast lazily casts rows. Each pull of the result pulls exactly one raw row.
// The first error, from rows or from casting, is yielded once and ends the
// sequence.
func (c *RowCaster) Cast(rows iter.Seq2[[]string, error]) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		i := 0
		for raw, err := range rows {
			if err != nil {
				yield(nil, err)
				return
			}
			row, err := c.CastRow(i, raw)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(row, nil) {
				return
			}
			i++
		}
	}
}

// LineCaster casts fixed-arity rows with positional converters and no
// missing/default policy. It is meant for data whose format is known to be
// stable.
type LineCaster []Converter

// Cast converts raw; len(raw) must equal len(lc).
func (lc LineCaster) Cast(raw []string) (Row, error) {
	if len(raw) != len(lc) {
		return nil, &CastError{
			Row: -1,
			Err: fmt.Errorf("got %d columns, want %d", len(raw), len(lc)),
		}
	}
	row := make(Row, len(lc))
	for i, conv := range lc {
		v, err := conv.Convert(raw[i])
		if err != nil {
			return nil, &CastError{Field: fmt.Sprintf("#%d", i), Raw: Present(raw[i]), Row: -1, Err: err}
		}
		row[i] = v
	}
	return row, nil
}
