package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/rowroute/internal/clock"
)

// LocalLock is an in-process lock for single-node deployments and tests.
// Instances sharing a LocalLock exclude each other; separate processes do
// not.
type LocalLock struct {
	mu     sync.Mutex
	clock  clock.Clock
	expiry map[string]time.Time
}

// NewLocalLock creates an empty lock table. A nil clock uses the system
// clock.
func NewLocalLock(clk clock.Clock) *LocalLock {
	if clk == nil {
		clk = clock.System{}
	}
	return &LocalLock{clock: clk, expiry: make(map[string]time.Time)}
}

func (l *LocalLock) TryAcquire(_ context.Context, action string, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if exp, ok := l.expiry[action]; ok && now.Before(exp) {
		return false, nil
	}
	l.expiry[action] = now.Add(lease)
	return true, nil
}

func (l *LocalLock) Renew(_ context.Context, action string, lease time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	exp, ok := l.expiry[action]
	if !ok || !now.Before(exp) {
		return fmt.Errorf("%w: %s lease expired", ErrLockLost, action)
	}
	l.expiry[action] = now.Add(lease)
	return nil
}

func (l *LocalLock) Release(_ context.Context, action string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expiry, action)
	return nil
}
