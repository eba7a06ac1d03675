package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"crawlstream/internal/caster"
)

// Field declares one column of the stream. It decodes from an object
// {"name", "type", "layout", "options"} or from the tuples [name, type] and
// [name, type, {missing, default}].
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`

	// Layout is the time layout for date and datetime fields.
	Layout string `json:"layout,omitempty" yaml:"layout,omitempty"`

	// Options holds the missing/default policy literals.
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// fromTuple fills f from a 2- or 3-element tuple; decode(i, dst) decodes the
// i-th element into dst.
func (f *Field) fromTuple(n int, decode func(i int, dst any) error) error {
	if n != 2 && n != 3 {
		return fmt.Errorf("field tuple must have 2 or 3 elements, got %d", n)
	}
	if err := decode(0, &f.Name); err != nil {
		return fmt.Errorf("field name: %w", err)
	}
	if err := decode(1, &f.Type); err != nil {
		return fmt.Errorf("field %q type: %w", f.Name, err)
	}
	f.Options = Options{}
	if n == 3 {
		if err := decode(2, &f.Options); err != nil {
			return fmt.Errorf("field %q options: %w", f.Name, err)
		}
	}
	return nil
}

func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var parts []json.RawMessage
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		return f.fromTuple(len(parts), func(i int, dst any) error {
			return json.Unmarshal(parts[i], dst)
		})
	}
	type plain Field
	return json.Unmarshal(b, (*plain)(f))
}

func (f *Field) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		return f.fromTuple(len(n.Content), func(i int, dst any) error {
			return n.Content[i].Decode(dst)
		})
	}
	type plain Field
	return n.Decode((*plain)(f))
}

// FieldDef resolves the field's converter and policy.
func (f Field) FieldDef() (caster.FieldDef, error) {
	conv, ok := caster.ConverterByName(f.Type, f.Layout)
	if !ok {
		return caster.FieldDef{}, &caster.SchemaError{
			Field:  f.Name,
			Reason: fmt.Sprintf("unknown type %q", f.Type),
		}
	}
	p, err := caster.ParsePolicy(f.Name, f.Options, conv)
	if err != nil {
		return caster.FieldDef{}, err
	}
	return caster.FieldDef{Name: f.Name, Converter: conv, Policy: p}, nil
}

// BuildFields resolves every field, stopping at the first invalid one.
func BuildFields(fields []Field) ([]caster.FieldDef, error) {
	defs := make([]caster.FieldDef, 0, len(fields))
	for _, f := range fields {
		d, err := f.FieldDef()
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// RowCaster compiles the stream's field list.
func (s Stream) RowCaster() (*caster.RowCaster, error) {
	defs, err := BuildFields(s.Fields)
	if err != nil {
		return nil, err
	}
	return caster.NewRowCaster(defs)
}
