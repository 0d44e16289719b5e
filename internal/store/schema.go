package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"mailingest-engine/internal/domain"
)

const schemaVersion = 1

// LedgerTable records every attachment committed by a run.
const LedgerTable = "attachment_ledger"

// Migrate creates the fixed tables. It is versioned through the meta table
// and safe to call on every start.
func (d *DB) Migrate(ctx context.Context) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS mailingest_meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`); err != nil {
		return fmt.Errorf("%w: create meta: %v", domain.ErrPersistence, err)
	}

	v := 0
	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM mailingest_meta WHERE key = `+d.d.bind(1)+`;`, "schema_version",
	).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("%w: read schema version: %v", domain.ErrPersistence, err)
	default:
		v, _ = strconv.Atoi(raw)
	}
	if v >= schemaVersion {
		return tx.Commit()
	}

	// ---- v1 ----

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+LedgerTable+` (
  message_id TEXT NOT NULL,
  attachment_name TEXT NOT NULL,
  report TEXT NOT NULL DEFAULT '',
  saved_path TEXT NOT NULL DEFAULT '',
  records INTEGER NOT NULL DEFAULT 0,
  processed_at TEXT NOT NULL,
  PRIMARY KEY (message_id, attachment_name)
);`); err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrPersistence, LedgerTable, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO mailingest_meta(key, value) VALUES(%s, %s)
ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, d.d.bind(1), d.d.bind(2)),
		"schema_version", strconv.Itoa(schemaVersion),
	); err != nil {
		return fmt.Errorf("%w: write schema version: %v", domain.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// EnsureSchema migrates the fixed tables and creates a table per report.
// Columns added to a report since its table was created are appended;
// nothing is dropped or retyped.
func (d *DB) EnsureSchema(ctx context.Context, schemas []domain.Schema) error {
	if err := d.Migrate(ctx); err != nil {
		return err
	}

	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range schemas {
		if _, err := tx.ExecContext(ctx, d.createTable(s)); err != nil {
			return fmt.Errorf("%w: create %s: %v", domain.ErrPersistence, s.Table, err)
		}

		have, err := d.columnSet(ctx, tx, s.Table)
		if err != nil {
			return err
		}
		for _, c := range s.Columns {
			if have[c.Name] {
				continue
			}
			q := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s;`, quote(s.Table), quote(c.Name), d.d.colType(c.Kind))
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("%w: add %s.%s: %v", domain.ErrPersistence, s.Table, c.Name, err)
			}
		}

		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(message_id, attachment_name);`,
			quote("idx_"+s.Table+"_provenance"), quote(s.Table))
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("%w: index %s: %v", domain.ErrPersistence, s.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	d.schemas = append([]domain.Schema(nil), schemas...)
	return nil
}

func (d *DB) createTable(s domain.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(s.Table))
	for _, k := range s.Key {
		fmt.Fprintf(&b, "  %s TEXT NOT NULL,\n", quote(k))
	}
	for _, c := range s.Columns {
		fmt.Fprintf(&b, "  %s %s,\n", quote(c.Name), d.d.colType(c.Kind))
	}
	b.WriteString("  message_id TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("  attachment_name TEXT NOT NULL DEFAULT '',\n")

	keys := make([]string, len(s.Key))
	for i, k := range s.Key {
		keys[i] = quote(k)
	}
	fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n);", strings.Join(keys, ", "))
	return b.String()
}

func (d *DB) columnSet(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, d.d.columns, table)
	if err != nil {
		return nil, fmt.Errorf("%w: columns of %s: %v", domain.ErrPersistence, table, err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		out[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return out, nil
}
