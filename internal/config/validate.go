package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"text/template"

	"gopkg.in/yaml.v3"

	"mailingest-engine/internal/domain"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedColumns are written by the store on every report table.
var reservedColumns = map[string]bool{"message_id": true, "attachment_name": true}

// Validate returns an error listing every hard problem in cfg.
func Validate(cfg Config) error {
	_, res := NormalizeAndValidate(cfg)
	if !res.OK() {
		return errors.New("config validation failed:\n- " + joinLines(res.Errors))
	}
	return nil
}

// TemplateFuncs are the functions available to archive.filename templates.
// The real implementations are bound by the materializer; these stubs exist so
// templates can be parsed during validation.
var TemplateFuncs = template.FuncMap{
	"clean": func(s string) string { return s },
}

func checkReports(res *Validation, reports []Report) {
	names := map[string]bool{}
	tables := map[string]bool{}
	for i, r := range reports {
		p := fmt.Sprintf("reports[%d]", i)
		if r.Name == "" {
			res.addErr("%s.name is required", p)
		} else if names[r.Name] {
			res.addErr("%s.name %q is duplicated", p, r.Name)
		}
		names[r.Name] = true

		if !identRe.MatchString(r.Table) {
			res.addErr("%s.table %q must be a plain identifier", p, r.Table)
		} else if tables[r.Table] {
			res.addErr("%s.table %q is used by two reports", p, r.Table)
		}
		tables[r.Table] = true

		if r.Match.AttachmentName != "" {
			if _, err := filepath.Match(r.Match.AttachmentName, ""); err != nil {
				res.addErr("%s.match.attachment_name: %v", p, err)
			}
		}

		fields := map[string]FieldSpec{}
		for j, f := range r.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", p, j)
			if !identRe.MatchString(f.Name) {
				res.addErr("%s.name %q must be a plain identifier", fp, f.Name)
			}
			if reservedColumns[f.Name] {
				res.addErr("%s.name %q is reserved for provenance", fp, f.Name)
			}
			if _, dup := fields[f.Name]; dup {
				res.addErr("%s.name %q is duplicated", fp, f.Name)
			}
			fields[f.Name] = f
			if f.Label == "" {
				res.addErr("%s.label is required", fp)
			}
			switch f.Kind {
			case domain.KindString, domain.KindInteger:
			case domain.KindDatetime:
				if f.Format == "" {
					res.addErr("%s.format is required for datetime fields", fp)
				}
			case domain.KindComposite:
				if f.Separator == "" {
					res.addErr("%s.separator is required for composite fields", fp)
				}
				if f.Index < 0 {
					res.addErr("%s.index must be >= 0", fp)
				}
			default:
				res.addErr("%s.kind %q must be string, integer, datetime or composite", fp, f.Kind)
			}
		}

		if len(r.Key) == 0 {
			res.addErr("%s.key must name at least one field", p)
		}
		for _, k := range r.Key {
			f, ok := fields[k]
			switch {
			case !ok:
				res.addErr("%s.key field %q is not declared in fields", p, k)
			case f.Kind != domain.KindString:
				res.addErr("%s.key field %q must be a string field", p, k)
			case f.Derived:
				res.addErr("%s.key field %q cannot be derived", p, k)
			}
		}
	}
}

func SaveAtomic(path string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}

	_ = os.Remove(bak)
	_ = os.Rename(path, bak)

	return os.Rename(tmp, path)
}

func joinLines(lines []string) string {
	out := ""
	for i, s := range lines {
		if i > 0 {
			out += "\n- "
		}
		out += s
	}
	return out
}
