package db

import (
	"context"
	"errors"
	"fmt"
)

// ErrWriterLockHeld is returned when another process already owns the writer lock.
var ErrWriterLockHeld = errors.New("writer lock held by another process")

// AcquireWriterLock takes the session-level advisory lock that guards episode
// processing. The lock lives on a dedicated connection and is released by the
// returned function.
func (db *DB) AcquireWriterLock(ctx context.Context) (func(), error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", writerLockID).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try acquire advisory lock: %w", err)
	}

	if !acquired {
		conn.Release()
		return nil, ErrWriterLockHeld
	}

	release := func() {
		//nolint:errcheck // lock is released on connection close anyway
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", writerLockID)
		conn.Release()
	}

	return release, nil
}
