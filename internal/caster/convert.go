package caster

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Converter turns one raw string into a typed Value. Kind is the type of
// every successful result; it also selects the neutral value used for absent
// columns.
type Converter interface {
	Kind() Kind
	Convert(raw string) (Value, error)
}

type funcConverter struct {
	kind Kind
	fn   func(string) (Value, error)
}

func (c funcConverter) Kind() Kind                        { return c.kind }
func (c funcConverter) Convert(raw string) (Value, error) { return c.fn(raw) }

// NewConverter adapts fn into a Converter producing values of kind k.
func NewConverter(k Kind, fn func(string) (Value, error)) Converter {
	return funcConverter{kind: k, fn: fn}
}

var (
	errEmpty   = errors.New("empty input")
	errNotInt  = errors.New("not an integer")
	errNotBool = errors.New("not a boolean")
	errNotDate = errors.New("not a date")
)

var (
	// AsInt parses base-10 signed 64-bit integers. "42.0" is accepted when the
	// fractional part is zero.
	AsInt = NewConverter(KindInt, func(s string) (Value, error) {
		n, err := toIntFast(s)
		if err != nil {
			return Value{}, err
		}
		return Int(n), nil
	})

	// AsUint64 parses an unsigned 64-bit id and stores it as the signed
	// integer with the same bits, so ids above MaxInt64 come out negative.
	AsUint64 = NewConverter(KindInt, func(s string) (Value, error) {
		if s == "" {
			return Value{}, errEmpty
		}
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return Int(int64(u)), nil
	})

	AsFloat = NewConverter(KindFloat, func(s string) (Value, error) {
		if s == "" {
			return Value{}, errEmpty
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	})

	AsString = NewConverter(KindString, func(s string) (Value, error) {
		return String(s), nil
	})

	// AsBool accepts 1/t/true/yes/y and 0/f/false/no/n, case-insensitively.
	// An empty string is false: crawl dumps leave unset flags blank.
	AsBool = NewConverter(KindBool, func(s string) (Value, error) {
		b, ok := toBoolFast(s)
		if !ok {
			return Value{}, errNotBool
		}
		return Bool(b), nil
	})
)

// AsDate parses dates with layout. An empty layout means "02.01.2006" with an
// ISO "2006-01-02" fallback.
func AsDate(layout string) Converter {
	czFast := layout == "" || layout == "02.01.2006"
	return NewConverter(KindTime, func(s string) (Value, error) {
		if s == "" {
			return Value{}, errEmpty
		}
		if czFast {
			if t, ok := parseCZDate(s); ok {
				return Time(t), nil
			}
		}
		if layout != "" {
			if t, err := time.Parse(layout, s); err == nil {
				return Time(t), nil
			}
		}
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return Time(t), nil
		}
		return Value{}, errNotDate
	})
}

// ConverterByName resolves the type names used in stream definitions.
// date and datetime take layout; other types ignore it.
func ConverterByName(name, layout string) (Converter, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "integer", "int64":
		return AsInt, true
	case "uint64", "id":
		return AsUint64, true
	case "float", "real", "double":
		return AsFloat, true
	case "string", "str", "text":
		return AsString, true
	case "bool", "boolean":
		return AsBool, true
	case "date":
		return AsDate(layout), true
	case "datetime", "timestamp":
		if layout == "" {
			layout = time.RFC3339
		}
		return AsDate(layout), true
	}
	return nil, false
}

// toIntFast parses integers and only falls back to float parsing when the
// field contains a '.'.
func toIntFast(s string) (int64, error) {
	if s == "" {
		return 0, errEmpty
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i, nil
	}
	if strings.IndexByte(s, '.') >= 0 {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil && f == float64(int64(f)) {
			return int64(f), nil
		}
		return 0, errNotInt
	}
	return 0, err
}

func toBoolFast(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "", "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// parseCZDate reads "DD.MM.YYYY" without allocating. Days past the end of
// the month are rejected rather than rolled into the next one.
func parseCZDate(s string) (time.Time, bool) {
	if len(s) != 10 || s[2] != '.' || s[5] != '.' {
		return time.Time{}, false
	}
	day, ok := digits(s[0:2])
	if !ok {
		return time.Time{}, false
	}
	mon, ok := digits(s[3:5])
	if !ok || mon < 1 || mon > 12 {
		return time.Time{}, false
	}
	year, ok := digits(s[6:10])
	if !ok || day < 1 || day > daysIn(time.Month(mon), year) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC), true
}

// digits parses an all-digit string.
func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i] - '0'
		if c > 9 {
			return 0, false
		}
		n = n*10 + int(c)
	}
	return n, true
}

func daysIn(m time.Month, year int) int {
	// Day 0 of the next month is the last day of m.
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
