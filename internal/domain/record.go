package domain

import (
	"strconv"
	"time"
)

// Kind is the coerced type of a report field.
type Kind string

const (
	KindString    Kind = "string"
	KindInteger   Kind = "integer"
	KindDatetime  Kind = "datetime"
	KindComposite Kind = "composite" // integer taken from one token of a split cell
)

// Stored returns the column kind a field of this kind is persisted as.
func (k Kind) Stored() Kind {
	if k == KindComposite {
		return KindInteger
	}
	return k
}

// Value is a tagged field value. Valid is false when the source cell was empty
// or could not be parsed; such a value is persisted as NULL.
type Value struct {
	Kind  Kind
	Valid bool
	Str   string
	Int   int64
	Time  time.Time
}

func StringValue(s string) Value { return Value{Kind: KindString, Valid: true, Str: s} }

func IntValue(n int64) Value { return Value{Kind: KindInteger, Valid: true, Int: n} }

func TimeValue(t time.Time) Value { return Value{Kind: KindDatetime, Valid: true, Time: t} }

// Null is the absent value of the given kind.
func Null(k Kind) Value { return Value{Kind: k.Stored()} }

// SQL returns the driver argument for the value (nil when absent).
func (v Value) SQL() any {
	if !v.Valid {
		return nil
	}
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindDatetime:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Str
	}
}

func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindDatetime:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Str
	}
}

// Equal reports whether two values hold the same data.
func (v Value) Equal(o Value) bool {
	if v.Valid != o.Valid || v.Kind.Stored() != o.Kind.Stored() {
		return false
	}
	if !v.Valid {
		return true
	}
	switch v.Kind.Stored() {
	case KindInteger:
		return v.Int == o.Int
	case KindDatetime:
		return v.Time.Equal(o.Time)
	default:
		return v.Str == o.Str
	}
}

// Column is one persisted, non-key field of a report table.
type Column struct {
	Name string
	Kind Kind
}

// Schema describes the table a report is merged into.
type Schema struct {
	Report  string
	Table   string
	Key     []string // natural key column names, all TEXT
	Columns []Column
}

// Record is a coerced table row. Key is aligned with Schema.Key. Fields holds
// only the non-key fields present in the source row.
type Record struct {
	Report string
	Key    []string
	Fields map[string]Value
}

// Provenance identifies the message attachment that last wrote an entity.
type Provenance struct {
	MessageID      string
	AttachmentName string
}

// Entity is the persisted form of a Record.
type Entity struct {
	Key        []string
	Fields     map[string]Value
	Provenance Provenance
}

// NewEntity builds an entity from every field of rec known to the schema.
func NewEntity(s Schema, rec Record, p Provenance) Entity {
	e := Entity{
		Key:    append([]string(nil), rec.Key...),
		Fields: make(map[string]Value, len(s.Columns)),
	}
	e.Merge(s, rec, p)
	return e
}

// Merge overwrites every schema column present on rec, including absent
// values, and replaces the provenance. Columns missing from rec are kept.
// It reports whether anything changed.
func (e *Entity) Merge(s Schema, rec Record, p Provenance) bool {
	if e.Fields == nil {
		e.Fields = make(map[string]Value, len(s.Columns))
	}
	changed := e.Provenance != p
	for _, c := range s.Columns {
		v, ok := rec.Fields[c.Name]
		if !ok {
			continue
		}
		if old, had := e.Fields[c.Name]; !had || !old.Equal(v) {
			changed = true
		}
		e.Fields[c.Name] = v
	}
	e.Provenance = p
	return changed
}
