// Package caster converts raw text columns into typed cells.
//
// A FieldDef pairs a column name with a Converter and a Policy. The policy
// decides what an absent column (a short row written before the column was
// appended to the format) and a blank column turn into:
//
//	input          policy has Missing   policy has Default   neither
//	Absent         Missing value        Zero(kind)           Zero(kind)
//	Present("")    converter("")        Default value        converter("")
//	Present(s)     converter(s)         converter(s)         converter(s)
//
// Absent and blank are deliberately different branches; Default never
// applies to an absent column.
package caster

import (
	"fmt"
	"sort"
	"strings"
)

// Raw is one raw column handed to a FieldCaster: either a present string
// (possibly blank) or the Absent sentinel.
type Raw struct {
	s       string
	present bool
}

// Absent marks a column the row does not have at all.
var Absent = Raw{}

// Present wraps a column value that exists in the row, even if blank.
func Present(s string) Raw { return Raw{s: s, present: true} }

func (r Raw) IsAbsent() bool { return !r.present }

// String returns the raw text; it is "" for Absent.
func (r Raw) String() string { return r.s }

// Policy is the closed set of missing/default options of a field:
// none, Missing only, Default only, or both.
type Policy struct {
	missing    Value
	def        Value
	hasMissing bool
	hasDefault bool
}

func NoPolicy() Policy             { return Policy{} }
func MissingPolicy(v Value) Policy { return Policy{missing: v, hasMissing: true} }
func DefaultPolicy(v Value) Policy { return Policy{def: v, hasDefault: true} }
func BothPolicy(missing, def Value) Policy {
	return Policy{missing: missing, def: def, hasMissing: true, hasDefault: true}
}

// Missing returns the value used for absent columns, if configured.
func (p Policy) Missing() (Value, bool) { return p.missing, p.hasMissing }

// Default returns the value used for blank columns, if configured.
func (p Policy) Default() (Value, bool) { return p.def, p.hasDefault }

func (p Policy) IsZero() bool { return !p.hasMissing && !p.hasDefault }

// Policy option keys accepted by ParsePolicy.
const (
	OptionMissing = "missing"
	OptionDefault = "default"
)

// ParsePolicy builds a Policy from an option map such as
// {"missing": "nolang"}. Only "missing" and "default" are recognized; any
// other key is a SchemaError. Literal values are converted to conv's kind
// (see Literal).
func ParsePolicy(field string, opts map[string]any, conv Converter) (Policy, error) {
	var unknown []string
	for k := range opts {
		if k != OptionMissing && k != OptionDefault {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Policy{}, &SchemaError{
			Field:  field,
			Reason: fmt.Sprintf("unsupported policy option(s) %s; allowed: missing, default", strings.Join(unknown, ", ")),
		}
	}

	var p Policy
	if lit, ok := opts[OptionMissing]; ok {
		v, err := Literal(lit, conv)
		if err != nil {
			return Policy{}, &SchemaError{Field: field, Reason: fmt.Sprintf("missing value: %v", err)}
		}
		p.missing, p.hasMissing = v, true
	}
	if lit, ok := opts[OptionDefault]; ok {
		v, err := Literal(lit, conv)
		if err != nil {
			return Policy{}, &SchemaError{Field: field, Reason: fmt.Sprintf("default value: %v", err)}
		}
		p.def, p.hasDefault = v, true
	}
	return p, nil
}

// Literal converts a configuration literal into a Value of conv's kind.
// Strings go through conv; numbers and booleans are mapped onto the kind
// directly (a non-zero number is true for bool fields); nil is null.
func Literal(lit any, conv Converter) (Value, error) {
	if s, ok := lit.(string); ok {
		return conv.Convert(s)
	}
	v, err := ValueOf(lit)
	if err != nil {
		return Value{}, err
	}
	if v.IsNull() || v.Kind() == conv.Kind() {
		return v, nil
	}
	switch conv.Kind() {
	case KindInt:
		if v.Kind() == KindFloat && v.Float() == float64(int64(v.Float())) {
			return Int(int64(v.Float())), nil
		}
		if v.Kind() == KindBool {
			if v.Bool() {
				return Int(1), nil
			}
			return Int(0), nil
		}
	case KindFloat:
		if v.Kind() == KindInt {
			return Float(float64(v.Int())), nil
		}
	case KindBool:
		switch v.Kind() {
		case KindInt:
			return Bool(v.Int() != 0), nil
		case KindFloat:
			return Bool(v.Float() != 0), nil
		}
	case KindString:
		return String(v.String()), nil
	}
	return Value{}, fmt.Errorf("cannot use %s literal %v as %s", v.Kind(), lit, conv.Kind())
}

// FieldDef declares one column: its name, how to convert it, and what to do
// when it is blank or absent.
type FieldDef struct {
	Name      string
	Converter Converter
	Policy    Policy
}

// Field is shorthand for a FieldDef without a policy.
func Field(name string, conv Converter) FieldDef {
	return FieldDef{Name: name, Converter: conv}
}

// FieldCaster casts one raw column.
type FieldCaster interface {
	Cast(raw Raw) (Value, error)
}

type plainCaster struct {
	name string
	conv Converter
}

// Plain returns a FieldCaster that applies conv as is. An absent column is
// an error since there is no policy to resolve it.
func Plain(name string, conv Converter) FieldCaster {
	return plainCaster{name: name, conv: conv}
}

func (c plainCaster) Cast(raw Raw) (Value, error) {
	if raw.IsAbsent() {
		return Value{}, &CastError{Field: c.name, Raw: raw, Row: -1, Err: fmt.Errorf("column absent")}
	}
	v, err := c.conv.Convert(raw.s)
	if err != nil {
		return Value{}, &CastError{Field: c.name, Raw: raw, Row: -1, Err: err}
	}
	return v, nil
}

type policyCaster struct {
	plainCaster
	policy Policy
}

// WithPolicy returns a FieldCaster that resolves absent and blank columns
// through p before falling back to conv.
func WithPolicy(name string, conv Converter, p Policy) FieldCaster {
	return policyCaster{plainCaster: plainCaster{name: name, conv: conv}, policy: p}
}

func (c policyCaster) Cast(raw Raw) (Value, error) {
	if raw.IsAbsent() {
		if v, ok := c.policy.Missing(); ok {
			return v, nil
		}
		return Zero(c.conv.Kind()), nil
	}
	if raw.s == "" {
		if v, ok := c.policy.Default(); ok {
			return v, nil
		}
	}
	return c.plainCaster.Cast(raw)
}
