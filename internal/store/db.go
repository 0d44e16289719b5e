package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"mailingest-engine/internal/domain"
)

type DB struct {
	Pool *sql.DB

	d       dialect
	schemas []domain.Schema // report tables known to Processed
}

// Open connects to the store. For sqlite, dsn is a file path (or a "file:"
// URI); for postgres it is a lib/pq connection string.
func Open(driver, dsn string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	if d.name == "sqlite" {
		if !strings.HasPrefix(dsn, "file:") {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("%w: create store dir: %v", domain.ErrPersistence, err)
				}
			}
			// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
			dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn)
		}
	}

	pool, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrPersistence, driver, err)
	}

	if d.name == "sqlite" {
		pool.SetMaxOpenConns(1) // single writer
	}
	pool.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", domain.ErrPersistence, driver, err)
	}

	return &DB{Pool: pool, d: d}, nil
}

func (d *DB) Close() error {
	if d == nil || d.Pool == nil {
		return nil
	}
	return d.Pool.Close()
}

// Driver is the dialect name, "sqlite" or "postgres".
func (d *DB) Driver() string { return d.d.name }
