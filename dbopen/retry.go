// CLAUDE:SUMMARY Busy-retry helpers — transactions and statements that survive SQLITE_BUSY under WAL.
package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The registry and snapshot stores share one SQLite file with the watch
// poller, so writes occasionally collide. Three linearly spaced retries
// absorb the collision window without hiding a genuinely stuck lock.
const (
	busyRetries = 3
	busyBackoff = 100 * time.Millisecond
)

// IsBusy reports whether err is an SQLite lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryBusy runs op, repeating on lock contention with linear backoff.
// Any other error, or exhaustion, returns immediately.
func retryBusy(ctx context.Context, label string, op func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = op(); err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyRetries-1 {
			break
		}
		if serr := sleepCtx(ctx, busyBackoff*time.Duration(attempt+1)); serr != nil {
			return fmt.Errorf("dbopen: %s interrupted while waiting out a lock: %w", label, serr)
		}
	}
	return err
}

// RunTx runs fn inside a transaction, retrying the whole transaction when
// SQLite reports the database locked. fn returning an error rolls back.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return retryBusy(ctx, "RunTx", func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec runs one statement with the same busy-retry policy as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryBusy(ctx, "Exec", func() error {
		var execErr error
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
