package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/rowroute/internal/clock"
	"github.com/roach88/rowroute/internal/store"
)

// StoreLock keeps lock rows in the SQLite store's cluster_lock table. All
// processes sharing the database file contend on the same rows.
type StoreLock struct {
	store    *store.Store
	serverID string
	clock    clock.Clock
}

// NewStoreLock creates a lock identified as serverID. A nil clock uses the
// system clock.
func NewStoreLock(s *store.Store, serverID string, clk clock.Clock) *StoreLock {
	if clk == nil {
		clk = clock.System{}
	}
	return &StoreLock{store: s, serverID: serverID, clock: clk}
}

func (l *StoreLock) TryAcquire(ctx context.Context, action string, lease time.Duration) (bool, error) {
	return l.store.TryLock(ctx, action, l.serverID, l.clock.Now(), lease)
}

// Renew extends the lease if this server still holds action, or if it
// lapsed and nobody else took it in the meantime.
func (l *StoreLock) Renew(ctx context.Context, action string, lease time.Duration) error {
	ok, err := l.TryAcquire(ctx, action, lease)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s held by another server", ErrLockLost, action)
	}
	return nil
}

func (l *StoreLock) Release(ctx context.Context, action string) error {
	return l.store.Unlock(ctx, action, l.serverID)
}

// ServerID returns the identity this lock acquires under.
func (l *StoreLock) ServerID() string {
	return l.serverID
}
