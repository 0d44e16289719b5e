package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailingest-engine/internal/domain"
)

// Processed reports whether an attachment has been committed before: it is
// in the attachment ledger, or it is the recorded provenance of a row in
// any report table passed to EnsureSchema.
func (d *DB) Processed(ctx context.Context, messageID, attachmentName string) (bool, error) {
	tables := []string{LedgerTable}
	for _, s := range d.schemas {
		tables = append(tables, s.Table)
	}
	for _, t := range tables {
		q := fmt.Sprintf(`SELECT 1 FROM %s WHERE message_id = %s AND attachment_name = %s LIMIT 1;`,
			quote(t), d.d.bind(1), d.d.bind(2))
		var one int
		err := d.Pool.QueryRowContext(ctx, q, messageID, attachmentName).Scan(&one)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: lookup in %s: %v", domain.ErrPersistence, t, err)
		}
	}
	return false, nil
}

// List returns every entity of a report, ordered by natural key.
func (d *DB) List(ctx context.Context, s domain.Schema) ([]domain.Entity, error) {
	keys := make([]string, len(s.Key))
	for i, k := range s.Key {
		keys[i] = quote(k)
	}
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s;`, selectList(s), quote(s.Table), strings.Join(keys, ", "))

	rows, err := d.Pool.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", domain.ErrPersistence, s.Table, err)
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan, s)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", domain.ErrPersistence, s.Table, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", domain.ErrPersistence, s.Table, err)
	}
	return out, nil
}

// Count returns the number of rows in a report table.
func (d *DB) Count(ctx context.Context, s domain.Schema) (int, error) {
	var n int
	err := d.Pool.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quote(s.Table))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", domain.ErrPersistence, s.Table, err)
	}
	return n, nil
}

// Ledger returns the store-side attachment ledger, oldest first.
func (d *DB) Ledger(ctx context.Context) ([]LedgerRow, error) {
	rows, err := d.Pool.QueryContext(ctx, `
SELECT message_id, attachment_name, report, saved_path, records, processed_at
FROM `+LedgerTable+`
ORDER BY processed_at, message_id, attachment_name;`)
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var out []LedgerRow
	for rows.Next() {
		var r LedgerRow
		var at string
		if err := rows.Scan(&r.Provenance.MessageID, &r.Provenance.AttachmentName, &r.Report, &r.SavedPath, &r.Records, &at); err != nil {
			return nil, fmt.Errorf("%w: read ledger: %v", domain.ErrPersistence, err)
		}
		r.ProcessedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read ledger: %v", domain.ErrPersistence, err)
	}
	return out, nil
}
