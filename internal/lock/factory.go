package lock

import (
	"context"
	"fmt"

	"github.com/roach88/rowroute/internal/clock"
	"github.com/roach88/rowroute/internal/store"
)

// Lock types accepted by New.
const (
	TypeSQLite    = "sqlite"
	TypeAzureBlob = "azure_blob"
	TypeLocal     = "local"
)

// Options selects and configures a ClusterLock.
type Options struct {
	Type     string
	ServerID string

	// Azure blob settings.
	ConnectionString string
	Container        string
	Prefix           string
}

// New creates the lock described by opts. st is used by the sqlite lock.
func New(ctx context.Context, opts Options, st *store.Store, clk clock.Clock) (ClusterLock, error) {
	switch opts.Type {
	case TypeSQLite, "":
		if st == nil {
			return nil, fmt.Errorf("sqlite lock requires a store")
		}
		id := opts.ServerID
		if id == "" {
			id = NewServerID()
		}
		return NewStoreLock(st, id, clk), nil
	case TypeAzureBlob:
		return NewBlobLock(ctx, opts.ConnectionString, opts.Container, opts.Prefix)
	case TypeLocal:
		return NewLocalLock(clk), nil
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", opts.Type)
	}
}
