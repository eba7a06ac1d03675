package caster

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlain_Nominal(t *testing.T) {
	v, err := Plain("n", AsInt).Cast(Present("10"))
	require.NoError(t, err)
	assert.Equal(t, Int(10), v)
}

func TestPlain_Errors(t *testing.T) {
	_, err := Plain("n", AsInt).Cast(Present("ten"))
	var ce *CastError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "n", ce.Field)
	assert.Equal(t, "ten", ce.Raw.String())
	assert.Equal(t, -1, ce.Row)

	_, err = Plain("n", AsInt).Cast(Absent)
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Raw.IsAbsent())
}

func TestWithPolicy(t *testing.T) {
	tests := []struct {
		name   string
		conv   Converter
		policy Policy
		in     Raw
		want   Value
	}{
		{"nominal", AsInt, MissingPolicy(Int(0)), Present("10"), Int(10)},
		{"missing value", AsInt, MissingPolicy(Int(0)), Absent, Int(0)},
		{"default only, absent falls to zero", AsInt, DefaultPolicy(Int(7)), Absent, Int(0)},
		{"missing wins over default", AsInt, BothPolicy(Int(0), Int(10)), Absent, Int(0)},
		{"bool neutral value", AsBool, DefaultPolicy(Int(0)), Absent, Bool(false)},
		{"empty uses default", AsInt, DefaultPolicy(Int(10)), Present(""), Int(10)},
		{"empty with both uses default", AsInt, BothPolicy(Int(0), Int(10)), Present(""), Int(10)},
		{"empty string no policy", AsString, NoPolicy(), Present(""), String("")},
		{"empty string missing only", AsString, MissingPolicy(String("nolang")), Present(""), String("")},
		{"absent string no policy", AsString, NoPolicy(), Absent, String("")},
		{"absent float no policy", AsFloat, NoPolicy(), Absent, Float(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithPolicy("f", tt.conv, tt.policy).Cast(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestWithPolicy_EmptyIntWithoutDefaultFails(t *testing.T) {
	// Blank falls through to the converter, which rejects "" for ints.
	_, err := WithPolicy("n", AsInt, MissingPolicy(Int(0))).Cast(Present(""))
	var ce *CastError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Raw.IsAbsent())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("lang", map[string]any{"missing": "nolang"}, AsString)
	require.NoError(t, err)
	v, ok := p.Missing()
	require.True(t, ok)
	assert.Equal(t, String("nolang"), v)
	_, ok = p.Default()
	assert.False(t, ok)

	p, err = ParsePolicy("n", map[string]any{"missing": float64(0), "default": float64(10)}, AsInt)
	require.NoError(t, err)
	m, _ := p.Missing()
	d, _ := p.Default()
	assert.Equal(t, Int(0), m)
	assert.Equal(t, Int(10), d)

	p, err = ParsePolicy("flag", map[string]any{"default": float64(0)}, AsBool)
	require.NoError(t, err)
	d, _ = p.Default()
	assert.Equal(t, Bool(false), d)

	p, err = ParsePolicy("x", nil, AsString)
	require.NoError(t, err)
	assert.True(t, p.IsZero())
}

func TestParsePolicy_Rejects(t *testing.T) {
	_, err := ParsePolicy("lang", map[string]any{"missing": "x", "fallback": "y"}, AsString)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "lang", se.Field)
	assert.Contains(t, se.Error(), "fallback")

	_, err = ParsePolicy("n", map[string]any{"default": "abc"}, AsInt)
	require.ErrorAs(t, err, &se)

	_, err = ParsePolicy("n", map[string]any{"default": 1.5}, AsInt)
	require.ErrorAs(t, err, &se)
}

func TestConverters(t *testing.T) {
	tests := []struct {
		conv    Converter
		in      string
		want    Value
		wantErr bool
	}{
		{AsInt, "42", Int(42), false},
		{AsInt, "-7", Int(-7), false},
		{AsInt, "42.0", Int(42), false},
		{AsInt, "42.5", Value{}, true},
		{AsInt, "", Value{}, true},
		{AsUint64, "18446744073709551615", Int(-1), false},
		{AsUint64, "-1", Value{}, true},
		{AsFloat, "3.14", Float(3.14), false},
		{AsFloat, "", Value{}, true},
		{AsString, "http://www.site.com", String("http://www.site.com"), false},
		{AsBool, "1", Bool(true), false},
		{AsBool, "Yes", Bool(true), false},
		{AsBool, "0", Bool(false), false},
		{AsBool, "", Bool(false), false},
		{AsBool, "maybe", Value{}, true},
		{AsDate(""), "31.12.2020", Time(time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)), false},
		{AsDate(""), "2020-12-31", Time(time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)), false},
		{AsDate(""), "32.12.2020", Value{}, true},
		{AsDate(""), "31.02.2024", Value{}, true},
		{AsDate(""), "29.02.2023", Value{}, true},
		{AsDate(""), "29.02.2024", Time(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)), false},
		{AsDate(""), "31.04.2020", Value{}, true},
		{AsDate(""), "1.12.2020", Value{}, true},
		{AsDate(""), "2024-02-31", Value{}, true},
		{AsDate("02.01.2006"), "31.02.2024", Value{}, true},
	}
	for _, tt := range tests {
		got, err := tt.conv.Convert(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.True(t, tt.want.Equal(got), "input %q: got %v want %v", tt.in, got, tt.want)
	}
}

func TestAsDate_FarYears(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"31.12.9999", time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"9999-12-31", time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"01.01.1600", time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"01.01.0001", time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		v, err := AsDate("").Convert(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, v.Time(), tt.in)
		assert.True(t, Time(tt.want).Equal(v), tt.in)
	}
}

func TestTimeValue_KeepsNanoseconds(t *testing.T) {
	ts := time.Date(2262, 4, 12, 0, 0, 0, 123456789, time.UTC)
	assert.Equal(t, ts, Time(ts).Time())

	early := time.Date(1677, 9, 21, 0, 0, 0, 1, time.UTC)
	assert.Equal(t, early, Time(early).Time())
	assert.False(t, Time(early).Equal(Time(early.Add(time.Nanosecond))))
}

func TestConverterByName(t *testing.T) {
	for _, name := range []string{"int", "uint64", "float", "string", "text", "bool", "date", "datetime"} {
		_, ok := ConverterByName(name, "")
		assert.True(t, ok, name)
	}
	_, ok := ConverterByName("blob", "")
	assert.False(t, ok)

	c, _ := ConverterByName("datetime", "")
	v, err := c.Convert("2021-03-04T05:06:07Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), v.Time())
}

func TestValueAny(t *testing.T) {
	r, err := RowOf(1, 2.5, "a", true, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), 2.5, "a", true, nil}, r.Values())

	_, err = RowOf(struct{}{})
	assert.Error(t, err)
}

func TestCastErrorUnwrap(t *testing.T) {
	sentinel := errors.New("boom")
	conv := NewConverter(KindString, func(string) (Value, error) { return Value{}, sentinel })
	_, err := Plain("x", conv).Cast(Present("y"))
	assert.ErrorIs(t, err, sentinel)
}
