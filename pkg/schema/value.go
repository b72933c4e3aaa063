package schema

import (
	"fmt"
	"strconv"
	"time"
)

// Kind is the backend-neutral category of a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindDate
	KindDatetime
)

// Layouts used to render temporal values.
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = "2006-01-02 15:04:05"
)

// Value is a typed column value. Backends decide only how to spell each
// kind, never how to interpret raw source text.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	t    time.Time
}

// Null is the SQL NULL value.
func Null() Value { return Value{} }

func IntValue(n int64) Value     { return Value{kind: KindInt, i: n} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func TextValue(s string) Value   { return Value{kind: KindText, s: s} }

func DateValue(t time.Time) Value {
	return Value{kind: KindDate, t: t.UTC().Truncate(24 * time.Hour)}
}

func DatetimeValue(t time.Time) Value {
	return Value{kind: KindDatetime, t: t.UTC()}
}

// ValueOf converts a Go value into a Value. It accepts Values, integers,
// floats, strings, times, and nil.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case float64:
		return FloatValue(t)
	case string:
		return TextValue(t)
	case time.Time:
		return DatetimeValue(t)
	default:
		return TextValue(fmt.Sprint(t))
	}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Text() string    { return v.s }
func (v Value) Time() time.Time { return v.t }

// Any returns the value as a database/sql argument. Temporal values are
// rendered as text; backends that need time.Time use Time.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindDate, KindDatetime:
		return v.String()
	}
	return nil
}

// String renders the value as flat-file text. NULL renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindText:
		return v.s
	case KindDate:
		return v.t.Format(DateLayout)
	case KindDatetime:
		return v.t.Format(DatetimeLayout)
	}
	return ""
}
