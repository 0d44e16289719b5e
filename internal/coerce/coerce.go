// Package coerce turns raw table rows into typed records according to the
// report field declarations in the configuration.
package coerce

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mailingest-engine/internal/config"
	"mailingest-engine/internal/domain"
)

// Row is what Coerce reads from: a label lookup over one table row.
type Row interface {
	Get(label string) (string, bool)
}

type field struct {
	config.FieldSpec
	layout string
	loc    *time.Location
}

// Report is a compiled report definition.
type Report struct {
	Name           string
	TableSelector  string
	LegendSelector string
	Match          config.Match
	Schema         domain.Schema

	fields []field
	keys   map[string]int
}

// Compile checks a report definition and prepares its field parsers.
func Compile(r config.Report) (*Report, error) {
	out := &Report{
		Name:           r.Name,
		TableSelector:  r.TableSelector,
		LegendSelector: r.LegendSelector,
		Match:          r.Match,
		keys:           make(map[string]int, len(r.Key)),
		Schema: domain.Schema{
			Report: r.Name,
			Table:  r.Table,
			Key:    append([]string(nil), r.Key...),
		},
	}
	if out.TableSelector == "" {
		out.TableSelector = "table"
	}
	for i, k := range r.Key {
		out.keys[k] = i
	}

	declared := map[string]bool{}
	for _, fs := range r.Fields {
		f := field{FieldSpec: fs}
		if fs.Kind == domain.KindDatetime {
			layout, err := goLayout(fs.Format)
			if err != nil {
				return nil, fmt.Errorf("report %s field %s: %w", r.Name, fs.Name, err)
			}
			loc, err := fixedZone(fs.Timezone)
			if err != nil {
				return nil, fmt.Errorf("report %s field %s: %w", r.Name, fs.Name, err)
			}
			f.layout, f.loc = layout, loc
		}
		out.fields = append(out.fields, f)
		declared[fs.Name] = true

		if _, isKey := out.keys[fs.Name]; isKey {
			if fs.Kind != domain.KindString || fs.Derived {
				return nil, fmt.Errorf("report %s: key field %s must be a stored string", r.Name, fs.Name)
			}
			continue
		}
		if !fs.Derived {
			out.Schema.Columns = append(out.Schema.Columns, domain.Column{Name: fs.Name, Kind: fs.Kind.Stored()})
		}
	}
	for _, k := range r.Key {
		if !declared[k] {
			return nil, fmt.Errorf("report %s: key field %s is not declared", r.Name, k)
		}
	}
	return out, nil
}

// CompileAll compiles every configured report.
func CompileAll(reports []config.Report) ([]*Report, error) {
	out := make([]*Report, 0, len(reports))
	for _, r := range reports {
		c, err := Compile(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Matches reports whether an attachment belongs to this report. Both the
// name glob and the subject filter compare case-insensitively.
func (r *Report) Matches(subject, attachmentName string) bool {
	if g := r.Match.AttachmentName; g != "" {
		ok, err := filepath.Match(strings.ToLower(g), strings.ToLower(attachmentName))
		if err != nil || !ok {
			return false
		}
	}
	if len(r.Match.SubjectContains) == 0 {
		return true
	}
	s := strings.ToLower(subject)
	for _, want := range r.Match.SubjectContains {
		if strings.Contains(s, strings.ToLower(want)) {
			return true
		}
	}
	return false
}

// FieldError describes a cell that could not be parsed. The field is kept
// with an absent value.
type FieldError struct {
	Field string
	Label string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s (%q = %q): %v", e.Field, e.Label, e.Value, e.Err)
}

func (e *FieldError) Unwrap() []error { return []error{domain.ErrFieldCoercion, e.Err} }

// Coerce maps a raw row to a domain record. Unparseable cells become absent
// values and are reported in the returned FieldErrors; they never fail the
// row. A missing or empty natural key fails with domain.ErrInvalidKey.
func (r *Report) Coerce(row Row) (domain.Record, []*FieldError, error) {
	rec := domain.Record{
		Report: r.Name,
		Key:    make([]string, len(r.Schema.Key)),
		Fields: make(map[string]domain.Value, len(r.fields)),
	}
	var problems []*FieldError

	for _, f := range r.fields {
		raw, ok := row.Get(f.Label)

		if i, isKey := r.keys[f.Name]; isKey {
			k := strings.TrimSpace(raw)
			if !ok || k == "" {
				return domain.Record{}, problems, fmt.Errorf("%w: %s (%q) is empty", domain.ErrInvalidKey, f.Name, f.Label)
			}
			rec.Key[i] = k
			continue
		}
		if !ok {
			// Not in this table; leave it untouched on update.
			continue
		}

		v, err := f.parse(raw)
		if err != nil {
			problems = append(problems, &FieldError{Field: f.Name, Label: f.Label, Value: raw, Err: err})
		}
		rec.Fields[f.Name] = v
	}

	// Derived fields take part in parsing (and its diagnostics) but are
	// never persisted.
	for _, f := range r.fields {
		if f.Derived {
			delete(rec.Fields, f.Name)
		}
	}
	return rec, problems, nil
}

var errTokenRange = errors.New("token index out of range")

func (f field) parse(raw string) (domain.Value, error) {
	s := strings.TrimSpace(raw)
	switch f.Kind {
	case domain.KindString:
		return domain.StringValue(raw), nil

	case domain.KindInteger:
		if s == "" {
			return domain.Null(domain.KindInteger), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return domain.Null(domain.KindInteger), err
		}
		return domain.IntValue(n), nil

	case domain.KindComposite:
		if s == "" {
			return domain.Null(domain.KindInteger), nil
		}
		parts := strings.Split(s, f.Separator)
		if f.Index >= len(parts) {
			return domain.Null(domain.KindInteger), errTokenRange
		}
		tok := strings.TrimSpace(parts[f.Index])
		if tok == "" {
			return domain.Null(domain.KindInteger), nil
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return domain.Null(domain.KindInteger), err
		}
		return domain.IntValue(n), nil

	case domain.KindDatetime:
		if s == "" {
			return domain.Null(domain.KindDatetime), nil
		}
		t, err := time.ParseInLocation(f.layout, s, f.loc)
		if err != nil {
			return domain.Null(domain.KindDatetime), err
		}
		return domain.TimeValue(t), nil
	}
	return domain.Null(f.Kind), fmt.Errorf("unknown kind %q", f.Kind)
}
