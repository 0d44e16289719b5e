// Package upsert merges coerced records into the persisted entity store,
// keyed by each report's natural key.
package upsert

import (
	"context"
	"fmt"

	"mailingest-engine/internal/domain"
	"mailingest-engine/internal/logger"
)

// Store is the access contract the engine needs. *store.Tx satisfies it.
type Store interface {
	Find(ctx context.Context, s domain.Schema, key []string) (*domain.Entity, error)
	Insert(ctx context.Context, s domain.Schema, e domain.Entity) error
	Update(ctx context.Context, s domain.Schema, e domain.Entity) error
}

type Outcome int

const (
	Inserted Outcome = iota + 1
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	}
	return "unknown"
}

type Engine struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{log: log.With("upsert")}
}

// Upsert inserts rec, or merges it into the entity with the same natural key.
// A merge overwrites every field present on rec (absent values included) and
// the provenance; fields rec does not carry keep their stored values. Rows
// that merge to no change are counted as updated but not rewritten.
func (e *Engine) Upsert(ctx context.Context, st Store, s domain.Schema, rec domain.Record, p domain.Provenance) (Outcome, error) {
	if len(rec.Key) != len(s.Key) {
		return 0, fmt.Errorf("%w: %s record key %v does not match %v", domain.ErrInvalidKey, s.Table, rec.Key, s.Key)
	}
	for i, k := range rec.Key {
		if k == "" {
			return 0, fmt.Errorf("%w: %s.%s is empty", domain.ErrInvalidKey, s.Table, s.Key[i])
		}
	}

	cur, err := st.Find(ctx, s, rec.Key)
	if err != nil {
		return 0, err
	}

	if cur == nil {
		if err := st.Insert(ctx, s, domain.NewEntity(s, rec, p)); err != nil {
			return 0, err
		}
		e.log.Debug("insert %s %v", s.Table, rec.Key)
		return Inserted, nil
	}

	if !cur.Merge(s, rec, p) {
		e.log.Debug("unchanged %s %v", s.Table, rec.Key)
		return Updated, nil
	}
	if err := st.Update(ctx, s, *cur); err != nil {
		return 0, err
	}
	e.log.Debug("update %s %v", s.Table, rec.Key)
	return Updated, nil
}
