package store

import (
	"fmt"
	"strconv"
	"strings"

	"mailingest-engine/internal/domain"
)

type dialect struct {
	name    string
	driver  string // database/sql driver name
	types   map[domain.Kind]string
	columns string // query listing a table's column names, one bind arg
}

var (
	sqliteDialect = dialect{
		name:   "sqlite",
		driver: "sqlite",
		types: map[domain.Kind]string{
			domain.KindString:   "TEXT",
			domain.KindInteger:  "INTEGER",
			domain.KindDatetime: "TEXT",
		},
		columns: `SELECT name FROM pragma_table_info(?);`,
	}
	postgresDialect = dialect{
		name:   "postgres",
		driver: "postgres",
		types: map[domain.Kind]string{
			domain.KindString:   "TEXT",
			domain.KindInteger:  "BIGINT",
			domain.KindDatetime: "TIMESTAMPTZ",
		},
		columns: `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1;`,
	}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql":
		return postgresDialect, nil
	}
	return dialect{}, fmt.Errorf("store: unsupported driver %q", driver)
}

// bind returns the placeholder for the n-th (1-based) argument.
func (d dialect) bind(n int) string {
	if d.name == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d dialect) colType(k domain.Kind) string {
	return d.types[k.Stored()]
}

// quote wraps an identifier. Names are validated as plain identifiers by the
// config layer before they get here.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// where renders "a = ? AND b = ?" starting at placeholder n.
func (d dialect) where(cols []string, n int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = quote(c) + " = " + d.bind(n+i)
	}
	return strings.Join(parts, " AND ")
}
