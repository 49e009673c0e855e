// Package entity describes persisted entity kinds with closed field sets and
// provides the get-or-modify upsert used by the questionnaire importer.
package entity

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid field value")
	ErrNotFound     = errors.New("record not found")
)

type FieldType int

const (
	Text FieldType = iota + 1
	Integer
	Float
	Bool
	Ref
	Time
)

func (t FieldType) String() string {
	switch t {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Ref:
		return "ref"
	case Time:
		return "time"
	default:
		return "unknown"
	}
}

// Field maps a document-level name onto a column.
type Field struct {
	Name   string
	Column string
	Type   FieldType
}

// Kind is the compile-time descriptor of one entity table. The id column is
// implicit and may only be used as a lookup.
type Kind struct {
	Name   string
	Table  string
	Fields []Field
}

var idField = Field{Name: "id", Column: "id", Type: Integer}

func (k Kind) Field(name string) (Field, bool) {
	for _, f := range k.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (k Kind) lookupField(name string) (Field, bool) {
	if name == "id" {
		return idField, true
	}
	return k.Field(name)
}

// Values holds field values keyed by field name.
type Values map[string]any

// Identified is implemented by anything that can stand in for a Ref value.
type Identified interface {
	EntityID() int64
}

// Record is one loaded row. Values are normalised per field type: string,
// int64, float64, bool, time.Time, or nil; refs are int64 ids.
type Record struct {
	Kind    string
	ID      int64
	Values  Values
	Changed []string
}

func (r *Record) EntityID() int64 {
	if r == nil {
		return 0
	}
	return r.ID
}

func (r *Record) String(name string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Values[name].(string)
	return s
}

func (r *Record) Int(name string) (int64, bool) {
	if r == nil {
		return 0, false
	}
	n, ok := r.Values[name].(int64)
	return n, ok
}

func (r *Record) Bool(name string) bool {
	if r == nil {
		return false
	}
	b, _ := r.Values[name].(bool)
	return b
}

// Normalize coerces v into the canonical Go type for f. nil stays nil.
func Normalize(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch f.Type {
	case Text:
		out, err = toText(v)
	case Integer:
		out, err = toInt(v)
	case Float:
		out, err = toFloat(v)
	case Bool:
		out, err = toBool(v)
	case Ref:
		out, err = toRef(v)
	case Time:
		out, err = toTime(v)
	default:
		err = fmt.Errorf("unsupported field type %d", f.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", ErrInvalidValue, f.Name, f.Type, err)
	}
	return out, nil
}

func toText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return nil, fmt.Errorf("cannot use %T as text", v)
	}
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, errors.New("integer overflow")
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%v is not a whole number", x)
		}
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseInt(s, 10, 64)
	case []byte:
		return toInt(string(x))
	default:
		return nil, fmt.Errorf("cannot use %T as integer", v)
	}
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseFloat(s, 64)
	case []byte:
		return toFloat(string(x))
	default:
		return nil, fmt.Errorf("cannot use %T as float", v)
	}
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off", "":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", x)
	case []byte:
		return toBool(string(x))
	default:
		return nil, fmt.Errorf("cannot use %T as bool", v)
	}
}

func toRef(v any) (any, error) {
	switch x := v.(type) {
	case *Record:
		if x == nil {
			return nil, nil
		}
		return x.ID, nil
	case Identified:
		id := x.EntityID()
		if id == 0 {
			return nil, nil
		}
		return id, nil
	default:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if id, ok := n.(int64); ok && id == 0 {
			return nil, nil
		}
		return n, nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("unrecognised time %q", x)
	case []byte:
		return toTime(string(x))
	default:
		return nil, fmt.Errorf("cannot use %T as time", v)
	}
}

func equal(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if okA || okB {
		return okA && okB && ta.Equal(tb)
	}
	return a == b
}
