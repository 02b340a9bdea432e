// Package normalize converts values in SQL Server's driver representation into
// values PostgreSQL (pgx) accepts with the same meaning.
//
// Every conversion is selected by a model.FieldCategory. Conversions are pure:
// they do no I/O, keep no state, and never mutate their input. Nil (or a nil
// pointer, or an invalid NullDecimal) always maps to nil.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"mssql2pg/internal/model"
)

// ErrUnsupportedConversion is returned (wrapped) when a value cannot be
// represented in the target category without losing meaning.
var ErrUnsupportedConversion = errors.New("unsupported conversion")

func unsupported(cat model.FieldCategory, v any, why string) error {
	return fmt.Errorf("%w: %s from %T: %s", ErrUnsupportedConversion, cat, v, why)
}

// Value converts v according to cat.
func Value(cat model.FieldCategory, v any) (any, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	switch cat {
	case model.FieldInt16:
		return toInt(cat, v, math.MinInt16, math.MaxInt16, func(n int64) any { return int16(n) })
	case model.FieldInt32:
		return toInt(cat, v, math.MinInt32, math.MaxInt32, func(n int64) any { return int32(n) })
	case model.FieldInt64:
		return toInt(cat, v, math.MinInt64, math.MaxInt64, func(n int64) any { return n })
	case model.FieldDecimal:
		return toNumeric(cat, v)
	case model.FieldFloat32:
		switch f := v.(type) {
		case float32:
			return f, nil
		case float64:
			// real columns surface as float64 holding an exact float32 value.
			if float64(float32(f)) != f && !math.IsNaN(f) {
				return nil, unsupported(cat, v, "value is not representable as real")
			}
			return float32(f), nil
		}
	case model.FieldFloat64:
		switch f := v.(type) {
		case float32:
			return float64(f), nil
		case float64:
			return f, nil
		}
	case model.FieldBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case model.FieldFixedText, model.FieldVarText:
		return toText(cat, v)
	case model.FieldIdentifier:
		return toUUID(cat, v)
	case model.FieldBinary, model.FieldVersionStamp:
		if b, ok := v.([]byte); ok {
			return Bytes(b), nil
		}
	case model.FieldTemporalNaive:
		if t, ok := v.(time.Time); ok {
			return EnsureUnspecifiedKind(t), nil
		}
	case model.FieldTemporalInstant:
		if t, ok := v.(time.Time); ok {
			return EnsureUTCOffset(t), nil
		}
	case model.FieldDate:
		switch t := v.(type) {
		case time.Time:
			return DateOnly(t), nil
		case string:
			d, err := time.Parse(time.DateOnly, t)
			if err != nil {
				return nil, unsupported(cat, v, err.Error())
			}
			return d, nil
		}
	case model.FieldSemiStructured:
		s, err := toText(cat, v)
		if err != nil {
			return nil, err
		}
		if !json.Valid([]byte(s.(string))) {
			return nil, unsupported(cat, v, "not valid JSON")
		}
		return s, nil
	case model.FieldHierarchyPath:
		s, err := toText(cat, v)
		if err != nil {
			return nil, err
		}
		return HierarchyPath(s.(string))
	case model.FieldGeometryText:
		return toText(cat, v)
	default:
		return nil, fmt.Errorf("%w: unknown category %s", ErrUnsupportedConversion, cat)
	}
	return nil, unsupported(cat, v, "unexpected source type")
}

// EnsureUnspecifiedKind keeps the wall-clock reading of t and drops its zone:
// the result is the same year..nanosecond fields in UTC, truncated to
// microseconds.
func EnsureUnspecifiedKind(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC).Truncate(time.Microsecond)
}

// EnsureUTCOffset returns the same instant as t expressed in UTC, truncated to
// microseconds.
func EnsureUTCOffset(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// DateOnly keeps the calendar date of t (in t's own zone) at midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// HierarchyPath turns hierarchyid text ("/1/2/3/") into ltree text ("1.2.3").
// The root ("/") and empty input yield nil. Only non-negative integer labels
// have a dot-path form; fractional ("/1/2.5/") and negative labels fail.
func HierarchyPath(s string) (any, error) {
	trimmed := strings.Trim(s, "/")
	if trimmed == "" {
		return nil, nil
	}
	labels := strings.Split(trimmed, "/")
	for _, l := range labels {
		if !isDigits(l) {
			return nil, unsupported(model.FieldHierarchyPath, s, fmt.Sprintf("label %q has no dot-path form", l))
		}
	}
	return strings.Join(labels, "."), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Bytes returns a copy of b with the same length. A nil slice stays nil.
func Bytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Numeric converts d to pgtype.Numeric keeping every digit and the scale.
func Numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func toNumeric(cat model.FieldCategory, v any) (any, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return Numeric(d), nil
	case string:
		dec, err := decimal.NewFromString(d)
		if err != nil {
			return nil, unsupported(cat, v, err.Error())
		}
		return Numeric(dec), nil
	case []byte:
		dec, err := decimal.NewFromString(string(d))
		if err != nil {
			return nil, unsupported(cat, v, err.Error())
		}
		return Numeric(dec), nil
	case int64:
		return Numeric(decimal.NewFromInt(d)), nil
	case int32:
		return Numeric(decimal.NewFromInt32(d)), nil
	}
	return nil, unsupported(cat, v, "inexact or unknown decimal source")
}

func toInt(cat model.FieldCategory, v any, lo, hi int64, mk func(int64) any) (any, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return nil, unsupported(cat, v, "out of range")
		}
		n = int64(x)
	default:
		return nil, unsupported(cat, v, "not an integer")
	}
	if n < lo || n > hi {
		return nil, unsupported(cat, v, fmt.Sprintf("%d out of range", n))
	}
	return mk(n), nil
}

func toText(cat model.FieldCategory, v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		if !utf8.Valid(s) {
			return nil, unsupported(cat, v, "invalid UTF-8")
		}
		return string(s), nil
	}
	return nil, unsupported(cat, v, "not text")
}

func toUUID(cat model.FieldCategory, v any) (any, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u, nil
	case mssql.UniqueIdentifier:
		return uuid.UUID(u), nil
	case [16]byte:
		return uuid.UUID(u), nil
	case []byte:
		// Raw wire bytes from SQL Server are in mixed-endian order.
		var mu mssql.UniqueIdentifier
		if err := mu.Scan(u); err != nil {
			return nil, unsupported(cat, v, err.Error())
		}
		return uuid.UUID(mu), nil
	case string:
		parsed, err := uuid.Parse(u)
		if err != nil {
			return nil, unsupported(cat, v, err.Error())
		}
		return parsed, nil
	}
	return nil, unsupported(cat, v, "not an identifier")
}

// deref unwraps the nullable shapes the model and drivers hand us.
func deref(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *float32:
		if x == nil {
			return nil
		}
		return *x
	case *int32:
		if x == nil {
			return nil
		}
		return *x
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return *x
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return x.Decimal
	case []byte:
		if x == nil {
			return nil
		}
		return x
	}
	return v
}
