package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cache is a persistent byte cache. It satisfies cache.Store.
type Cache struct {
	db *DB
}

// Cache returns the byte cache stored in db.
func (db *DB) Cache() *Cache {
	return &Cache{db: db}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.sql.QueryRowContext(ctx, `SELECT value FROM cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return value, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.db.sql.ExecContext(ctx,
		`INSERT INTO cache (key, value, size, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, size = excluded.size, updated_at = excluded.updated_at`,
		key, value, len(value), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Prune deletes the least recently written entries until the total size is
// at most maxBytes. It returns the number of entries removed.
func (c *Cache) Prune(ctx context.Context, maxBytes int64) (int, error) {
	var total int64
	if err := c.db.sql.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM cache`).Scan(&total); err != nil {
		return 0, fmt.Errorf("cache size: %w", err)
	}
	if total <= maxBytes {
		return 0, nil
	}

	rows, err := c.db.sql.QueryContext(ctx, `SELECT key, size FROM cache ORDER BY updated_at ASC`)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	var victims []string
	for rows.Next() && total > maxBytes {
		var (
			key  string
			size int64
		)
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, key)
		total -= size
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, key := range victims {
		if _, err := c.db.sql.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
			return 0, fmt.Errorf("cache delete %q: %w", key, err)
		}
	}
	c.db.log.Info("cache pruned", "removed", len(victims), "max_bytes", maxBytes)
	return len(victims), nil
}
