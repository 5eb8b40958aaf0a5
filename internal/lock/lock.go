// Package lock provides the cluster-wide named mutual exclusion that keeps
// routing passes from running on two processes at once.
//
// Every implementation holds a lease: a holder that dies without releasing
// loses the lock when the lease runs out, so another process can take over.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ActionRoute is the lock action guarding routing passes.
const ActionRoute = "ROUTE"

// ClusterLock is a leased, named lock.
type ClusterLock interface {
	// TryAcquire attempts to take action for lease. It never blocks waiting
	// for another holder; false means someone else holds it.
	TryAcquire(ctx context.Context, action string, lease time.Duration) (bool, error)

	// Release gives up action. Releasing a lock not held is a no-op.
	Release(ctx context.Context, action string) error
}

// ErrLockLost reports that a lock this process held has lapsed or been
// taken over.
var ErrLockLost = errors.New("cluster lock lost")

// Renewer is implemented by locks whose holder can extend its lease.
type Renewer interface {
	// Renew extends the caller's hold on action to lease from now. It
	// returns an error wrapping ErrLockLost when the caller no longer
	// holds action.
	Renew(ctx context.Context, action string, lease time.Duration) error
}

// NewServerID returns an identifier for this process: host name plus a
// random suffix, so two processes on one host never share an id.
func NewServerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
