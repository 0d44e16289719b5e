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

// Tx is the unit of work for one attachment: entity reads and writes plus
// the attachment's ledger row, committed together.
type Tx struct {
	tx *sql.Tx
	d  dialect
}

func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", domain.ErrPersistence, err)
	}
	return &Tx{tx: tx, d: d.d}, nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Rollback is a no-op after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Find returns the entity with the given natural key, or nil.
func (t *Tx) Find(ctx context.Context, s domain.Schema, key []string) (*domain.Entity, error) {
	if len(key) != len(s.Key) {
		return nil, fmt.Errorf("%w: %s key has %d parts, want %d", domain.ErrInvalidKey, s.Table, len(key), len(s.Key))
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s;`, selectList(s), quote(s.Table), t.d.where(s.Key, 1))
	row := t.tx.QueryRowContext(ctx, q, stringArgs(key)...)

	e, err := scanEntity(row.Scan, s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find in %s: %v", domain.ErrPersistence, s.Table, err)
	}
	return &e, nil
}

// Insert writes a new entity. Columns without a field are left NULL.
func (t *Tx) Insert(ctx context.Context, s domain.Schema, e domain.Entity) error {
	cols := make([]string, 0, len(s.Key)+len(s.Columns)+2)
	args := make([]any, 0, cap(cols))
	for i, k := range s.Key {
		cols = append(cols, quote(k))
		args = append(args, e.Key[i])
	}
	for _, c := range s.Columns {
		v, ok := e.Fields[c.Name]
		if !ok {
			continue
		}
		cols = append(cols, quote(c.Name))
		args = append(args, v.SQL())
	}
	cols = append(cols, "message_id", "attachment_name")
	args = append(args, e.Provenance.MessageID, e.Provenance.AttachmentName)

	marks := make([]string, len(cols))
	for i := range marks {
		marks[i] = t.d.bind(i + 1)
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s);`,
		quote(s.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: insert into %s: %v", domain.ErrPersistence, s.Table, err)
	}
	return nil
}

// Update overwrites every field carried by e, and its provenance.
func (t *Tx) Update(ctx context.Context, s domain.Schema, e domain.Entity) error {
	var sets []string
	var args []any
	for _, c := range s.Columns {
		v, ok := e.Fields[c.Name]
		if !ok {
			continue
		}
		args = append(args, v.SQL())
		sets = append(sets, quote(c.Name)+" = "+t.d.bind(len(args)))
	}
	args = append(args, e.Provenance.MessageID)
	sets = append(sets, "message_id = "+t.d.bind(len(args)))
	args = append(args, e.Provenance.AttachmentName)
	sets = append(sets, "attachment_name = "+t.d.bind(len(args)))

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE %s;`,
		quote(s.Table), strings.Join(sets, ", "), t.d.where(s.Key, len(args)+1))
	args = append(args, stringArgs(e.Key)...)

	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", domain.ErrPersistence, s.Table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: update %s: no row for key %v", domain.ErrPersistence, s.Table, e.Key)
	}
	return nil
}

// LedgerRow is one committed attachment.
type LedgerRow struct {
	Provenance  domain.Provenance
	Report      string
	SavedPath   string
	Records     int
	ProcessedAt time.Time
}

// MarkProcessed records the attachment in the store-side ledger. Marking the
// same attachment twice keeps the first row.
func (t *Tx) MarkProcessed(ctx context.Context, r LedgerRow) error {
	at := r.ProcessedAt
	if at.IsZero() {
		at = time.Now()
	}
	q := fmt.Sprintf(`
INSERT INTO %s (message_id, attachment_name, report, saved_path, records, processed_at)
VALUES (%s, %s, %s, %s, %s, %s)
ON CONFLICT (message_id, attachment_name) DO NOTHING;`, LedgerTable,
		t.d.bind(1), t.d.bind(2), t.d.bind(3), t.d.bind(4), t.d.bind(5), t.d.bind(6))
	_, err := t.tx.ExecContext(ctx, q,
		r.Provenance.MessageID, r.Provenance.AttachmentName, r.Report, r.SavedPath, r.Records,
		at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: record attachment: %v", domain.ErrPersistence, err)
	}
	return nil
}

func selectList(s domain.Schema) string {
	cols := make([]string, 0, len(s.Key)+len(s.Columns)+2)
	for _, k := range s.Key {
		cols = append(cols, quote(k))
	}
	for _, c := range s.Columns {
		cols = append(cols, quote(c.Name))
	}
	cols = append(cols, "message_id", "attachment_name")
	return strings.Join(cols, ", ")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func scanEntity(scan func(dest ...any) error, s domain.Schema) (domain.Entity, error) {
	keys := make([]string, len(s.Key))
	dest := make([]any, 0, len(s.Key)+len(s.Columns)+2)
	for i := range keys {
		dest = append(dest, &keys[i])
	}
	vals := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		if c.Kind.Stored() == domain.KindInteger {
			vals[i] = new(sql.NullInt64)
		} else {
			vals[i] = new(sql.NullString)
		}
		dest = append(dest, vals[i])
	}
	var p domain.Provenance
	dest = append(dest, &p.MessageID, &p.AttachmentName)

	if err := scan(dest...); err != nil {
		return domain.Entity{}, err
	}

	e := domain.Entity{Key: keys, Fields: make(map[string]domain.Value, len(s.Columns)), Provenance: p}
	for i, c := range s.Columns {
		v, err := fromSQL(c.Kind.Stored(), vals[i])
		if err != nil {
			return domain.Entity{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
		e.Fields[c.Name] = v
	}
	return e, nil
}

func fromSQL(k domain.Kind, src any) (domain.Value, error) {
	switch v := src.(type) {
	case *sql.NullInt64:
		if !v.Valid {
			return domain.Null(k), nil
		}
		return domain.IntValue(v.Int64), nil
	case *sql.NullString:
		if !v.Valid {
			return domain.Null(k), nil
		}
		if k == domain.KindDatetime {
			ts, err := time.Parse(time.RFC3339Nano, v.String)
			if err != nil {
				return domain.Null(k), err
			}
			return domain.TimeValue(ts), nil
		}
		return domain.StringValue(v.String), nil
	}
	return domain.Null(k), fmt.Errorf("unexpected scan target %T", src)
}
