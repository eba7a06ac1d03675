package caster

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind enumerates the cell types a Value can carry.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a typed cell. The zero Value is null.
//
// Numbers, booleans and times share the 64-bit payload n: ints are stored as
// is, floats as their IEEE-754 bits, booleans as 0/1 and times as unix
// seconds with the nanosecond remainder in ns. Seconds cover every year a
// layout can spell, so 9999-12-31 placeholders survive.
type Value struct {
	kind Kind
	ns   int32
	n    uint64
	s    string
}

func Null() Value { return Value{} }
func Int(v int64) Value { return Value{kind: KindInt, n: uint64(v)} }
func Float(v float64) Value { return Value{kind: KindFloat, n: math.Float64bits(v)} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func Time(v time.Time) Value {
	return Value{kind: KindTime, n: uint64(v.Unix()), ns: int32(v.Nanosecond())}
}
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, n: 1}
	}
	return Value{kind: KindBool}
}

// Zero returns the neutral value of kind k: 0, 0.0, "", false, the unix
// epoch, or null.
func Zero(k Kind) Value {
	switch k {
	case KindInt:
		return Int(0)
	case KindFloat:
		return Float(0)
	case KindString:
		return String("")
	case KindBool:
		return Bool(false)
	case KindTime:
		return Time(time.Unix(0, 0))
	default:
		return Null()
	}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Int() int64 { return int64(v.n) }
func (v Value) Float() float64 { return math.Float64frombits(v.n) }
func (v Value) Str() string { return v.s }
func (v Value) Bool() bool { return v.n != 0 }
func (v Value) Time() time.Time {
	return time.Unix(int64(v.n), int64(v.ns)).UTC()
}

// Any returns the native Go value: int64, float64, string, bool, time.Time or
// nil for null.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.Int()
	case KindFloat:
		return v.Float()
	case KindString:
		return v.s
	case KindBool:
		return v.Bool()
	case KindTime:
		return v.Time()
	default:
		return nil
	}
}

// ValueOf wraps a native Go value. Supported inputs are nil, the signed and
// unsigned integer types (unsigned values above MaxInt64 wrap), float32,
// float64, string, bool and time.Time.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case time.Time:
		return Time(t), nil
	default:
		return Value{}, fmt.Errorf("caster: unsupported value type %T", x)
	}
}

// Equal reports whether v and o have the same kind and payload. Floats are
// compared bitwise so NaN equals itself.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.n == o.n && v.ns == o.ns && v.s == o.s
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindTime:
		return v.Time().Format(time.RFC3339Nano)
	default:
		return "null"
	}
}

// Row is a positional, fixed-arity sequence of cells aligned to a field list.
type Row []Value

// Values returns the row as native Go values, ready for database/sql or pgx.
func (r Row) Values() []any {
	out := make([]any, len(r))
	for i, v := range r {
		out[i] = v.Any()
	}
	return out
}

// Equal reports whether r and o hold equal cells in the same order.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// RowOf builds a Row from native Go values (see ValueOf).
func RowOf(xs ...any) (Row, error) {
	r := make(Row, len(xs))
	for i, x := range xs {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		r[i] = v
	}
	return r, nil
}
