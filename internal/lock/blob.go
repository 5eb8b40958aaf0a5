package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
)

// Azure blob leases must be between 15 and 60 seconds.
const (
	minBlobLease = 15 * time.Second
	maxBlobLease = 60 * time.Second
)

// BlobLock holds actions as leases on empty blobs named "<prefix><action>.lock"
// in an Azure Storage container. A held lease is renewed in the background
// at half its duration until Release, so a crashed holder loses the lock
// within one lease period.
type BlobLock struct {
	client    *azblob.Client
	container string
	prefix    string

	mu   sync.Mutex
	held map[string]*heldLease
}

type heldLease struct {
	client *lease.BlobClient
	stop   context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error // first renewal failure
}

func (h *heldLease) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

func (h *heldLease) renewErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// NewBlobLock connects to the storage account and makes sure the container
// exists.
func NewBlobLock(ctx context.Context, connectionString, container, prefix string) (*BlobLock, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}
	_, err = client.CreateContainer(ctx, container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("failed to create or check container %s: %w", container, err)
	}

	return &BlobLock{
		client:    client,
		container: container,
		prefix:    prefix,
		held:      make(map[string]*heldLease),
	}, nil
}

// BlobName returns the blob that represents action.
func BlobName(prefix, action string) string {
	return prefix + action + ".lock"
}

// blobLeaseDuration clamps d to the range Azure accepts.
func blobLeaseDuration(d time.Duration) time.Duration {
	return min(max(d, minBlobLease), maxBlobLease)
}

func (l *BlobLock) TryAcquire(ctx context.Context, action string, d time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[action]; ok {
		err := h.renewErr()
		if err == nil {
			return true, nil
		}
		delete(l.held, action)
		h.stop()
		<-h.done
		return false, lostError(action, err)
	}

	name := BlobName(l.prefix, action)
	bb := l.client.ServiceClient().NewContainerClient(l.container).NewBlockBlobClient(name)

	_, err := bb.UploadBuffer(ctx, []byte{}, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.LeaseIDMissing, bloberror.BlobAlreadyExists) {
		return false, fmt.Errorf("failed to ensure lock blob %s: %w", name, err)
	}

	lc, err := lease.NewBlobClient(bb, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create blob lease client: %w", err)
	}

	duration := blobLeaseDuration(d)
	resp, err := lc.AcquireLease(ctx, int32(duration.Seconds()), nil)
	if bloberror.HasCode(err, bloberror.LeaseAlreadyPresent) {
		slog.Debug("lock blob already leased", "blob", name)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease on %s: %w", name, err)
	}

	renewCtx, stop := context.WithCancel(context.Background())
	h := &heldLease{client: lc, stop: stop, done: make(chan struct{})}
	l.held[action] = h
	go l.renew(renewCtx, h, name, duration/2)

	slog.Info("lock acquired", "blob", name, "lease_id", derefString(resp.LeaseID))
	return true, nil
}

func (l *BlobLock) renew(ctx context.Context, h *heldLease, name string, every time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.client.RenewLease(ctx, nil); err != nil && ctx.Err() == nil {
				slog.Warn("failed to renew lock lease", "blob", name, "error", err)
				h.fail(err)
				return
			}
		}
	}
}

// Renew reports whether the background renewal of action is still healthy.
// The lease itself is extended by that renewal, so lease is ignored.
func (l *BlobLock) Renew(_ context.Context, action string, _ time.Duration) error {
	l.mu.Lock()
	h, ok := l.held[action]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s not held", ErrLockLost, action)
	}
	if err := h.renewErr(); err != nil {
		return lostError(action, err)
	}
	return nil
}

func (l *BlobLock) Release(ctx context.Context, action string) error {
	l.mu.Lock()
	h, ok := l.held[action]
	delete(l.held, action)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	h.stop()
	<-h.done

	if err := h.renewErr(); err != nil {
		return lostError(action, err)
	}

	name := BlobName(l.prefix, action)
	if _, err := h.client.ReleaseLease(ctx, nil); err != nil {
		return fmt.Errorf("failed to release lease on %s: %w", name, err)
	}
	slog.Info("lock released", "blob", name)
	return nil
}

func lostError(action string, err error) error {
	return fmt.Errorf("%w: lease on %s was not renewed: %w", ErrLockLost, action, err)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
