package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned when another holder owns the lease.
var ErrAlreadyRunning = errors.New("already running")

// Lease is a named, non-reentrant lock held in the database. Acquire never
// waits: a held lease fails immediately.
type Lease struct {
	db   *DB
	name string
}

// Lease returns the lease called name.
func (db *DB) Lease(name string) *Lease {
	return &Lease{db: db, name: name}
}

// Holder describes the current owner of a lease.
type Holder struct {
	Owner      string
	Hostname   string
	PID        int
	AcquiredAt time.Time
}

// Acquire takes the lease. The returned release function gives it back and
// is safe to call more than once.
func (l *Lease) Acquire(ctx context.Context) (release func(context.Context) error, err error) {
	owner := uuid.NewString()
	host, _ := os.Hostname()

	res, err := l.db.sql.ExecContext(ctx,
		`INSERT INTO run_lease (name, owner, hostname, pid, acquired_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		l.name, owner, host, os.Getpid(), time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", l.name, ErrAlreadyRunning)
	}

	l.db.log.Debug("lease acquired", "name", l.name, "owner", owner)
	return func(ctx context.Context) error {
		_, err := l.db.sql.ExecContext(ctx, `DELETE FROM run_lease WHERE name = ? AND owner = ?`, l.name, owner)
		if err != nil {
			return fmt.Errorf("release %s: %w", l.name, err)
		}
		return nil
	}, nil
}

// Holder returns the current owner, or nil when the lease is free.
func (l *Lease) Holder(ctx context.Context) (*Holder, error) {
	var (
		h  Holder
		at int64
	)
	err := l.db.sql.QueryRowContext(ctx,
		`SELECT owner, hostname, pid, acquired_at FROM run_lease WHERE name = ?`, l.name).
		Scan(&h.Owner, &h.Hostname, &h.PID, &at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	h.AcquiredAt = time.Unix(0, at)
	return &h, nil
}

// ClearStale removes the lease when its holder is gone: a process on this
// host that no longer exists, or any holder older than maxAge. It reports
// whether a lease was removed.
func (l *Lease) ClearStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	h, err := l.Holder(ctx)
	if err != nil || h == nil {
		return false, err
	}

	host, _ := os.Hostname()
	stale := (h.Hostname == host && !processAlive(h.PID)) ||
		(maxAge > 0 && time.Since(h.AcquiredAt) > maxAge)
	if !stale {
		return false, nil
	}

	if _, err := l.db.sql.ExecContext(ctx, `DELETE FROM run_lease WHERE name = ? AND owner = ?`, l.name, h.Owner); err != nil {
		return false, fmt.Errorf("clear stale %s: %w", l.name, err)
	}
	l.db.log.Warn("cleared stale lease", "name", l.name, "pid", h.PID, "acquired_at", h.AcquiredAt)
	return true, nil
}

func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
