package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LockInfo is the state of one cluster_lock row.
type LockInfo struct {
	Action              string    `json:"action"`
	LockingServerID     string    `json:"locking_server_id"`
	LockTime            time.Time `json:"lock_time"`
	LeaseExpires        time.Time `json:"lease_expires"`
	LastLockingServerID string    `json:"last_locking_server_id"`
	LastLockTime        time.Time `json:"last_lock_time"`
}

// Held reports whether the lock is held by anyone at now.
func (l LockInfo) Held(now time.Time) bool {
	return l.LockingServerID != "" && now.Before(l.LeaseExpires)
}

// TryLock claims action for serverID until now+lease. It succeeds when the
// row is free, its lease has expired, or serverID already holds it (which
// extends the lease).
func (s *Store) TryLock(ctx context.Context, action, serverID string, now time.Time, lease time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("try lock %s: begin tx: %w", action, err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cluster_lock (lock_action) VALUES (?)
		ON CONFLICT(lock_action) DO NOTHING
	`, action); err != nil {
		return false, fmt.Errorf("try lock %s: %w", action, err)
	}

	nowN := toNanos(now)
	res, err := tx.ExecContext(ctx, `
		UPDATE cluster_lock SET
			locking_server_id = ?, lock_time = ?, lease_expires = ?,
			last_locking_server_id = ?, last_lock_time = ?
		WHERE lock_action = ?
		  AND (locking_server_id = '' OR lease_expires <= ? OR locking_server_id = ?)
	`, serverID, nowN, toNanos(now.Add(lease)), serverID, nowN, action, nowN, serverID)
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", action, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("try lock %s: rows affected: %w", action, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("try lock %s: commit: %w", action, err)
	}
	return n == 1, nil
}

// Unlock releases action if serverID holds it. Releasing a lock held by
// another server, or not held at all, is a no-op.
func (s *Store) Unlock(ctx context.Context, action, serverID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cluster_lock SET locking_server_id = '', lease_expires = 0
		WHERE lock_action = ? AND locking_server_id = ?
	`, action, serverID)
	if err != nil {
		return fmt.Errorf("unlock %s: %w", action, err)
	}
	return nil
}

// LockStatus returns the lock row for action. A never-used action returns a
// zero LockInfo with only Action set.
func (s *Store) LockStatus(ctx context.Context, action string) (LockInfo, error) {
	info := LockInfo{Action: action}
	var lockTime, expires, lastTime int64
	err := s.db.QueryRowContext(ctx, `
		SELECT locking_server_id, lock_time, lease_expires, last_locking_server_id, last_lock_time
		FROM cluster_lock WHERE lock_action = ?
	`, action).Scan(&info.LockingServerID, &lockTime, &expires, &info.LastLockingServerID, &lastTime)
	if errors.Is(err, sql.ErrNoRows) {
		return info, nil
	}
	if err != nil {
		return LockInfo{}, fmt.Errorf("lock status %s: %w", action, err)
	}
	info.LockTime = fromNanos(lockTime)
	info.LeaseExpires = fromNanos(expires)
	info.LastLockTime = fromNanos(lastTime)
	return info, nil
}
