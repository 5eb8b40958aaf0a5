package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/roach88/rowroute/internal/batch"
	"github.com/roach88/rowroute/internal/clock"
	"github.com/roach88/rowroute/internal/gaps"
	"github.com/roach88/rowroute/internal/lock"
	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/reader"
	"github.com/roach88/rowroute/internal/route"
	"github.com/roach88/rowroute/internal/source"
	"github.com/roach88/rowroute/internal/store"
)

// Defaults for engine options.
const (
	DefaultLockLease       = 5 * time.Minute
	DefaultPollInterval    = 10 * time.Second
	DefaultMaxPollInterval = time.Minute
)

// Catalog resolves the routing configuration: channels plus the bindings
// and candidate nodes the dispatcher needs.
type Catalog interface {
	route.Catalog
	Channels() []model.Channel
}

// State is the engine's position in the pass state machine.
type State int32

const (
	StateIdle State = iota
	StateLockAcquiring
	StateGapReconcile
	StateStreaming
	StateFlushing
	StateUnlocking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLockAcquiring:
		return "LOCK_ACQUIRING"
	case StateGapReconcile:
		return "GAP_RECONCILE"
	case StateStreaming:
		return "STREAMING"
	case StateFlushing:
		return "FLUSHING"
	case StateUnlocking:
		return "UNLOCKING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Engine owns all mutable routing state for a process. RoutePass must not
// be called concurrently on one Engine; the cluster lock extends that
// exclusion across processes.
type Engine struct {
	store   *store.Store
	log     source.ChangeLog
	catalog Catalog
	lock    lock.ClusterLock

	tracker    *gaps.Tracker
	dispatcher *route.Dispatcher
	assembler  *batch.Assembler

	clock     clock.Clock
	passIDs   PassIDGenerator
	lockLease time.Duration
	peekAhead int

	pollInterval    time.Duration
	maxPollInterval time.Duration

	routers    *route.Registry
	algorithms *batch.Registry
	gapOpts    []gaps.Option

	state atomic.Int32
	wake  chan struct{} // buffered, size 1
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the wall clock used for batch, gap and lock times.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithPassIDs sets the pass id generator. Default: UUIDv7Generator.
func WithPassIDs(g PassIDGenerator) Option {
	return func(e *Engine) {
		e.passIDs = g
	}
}

// WithLockLease sets the cluster lock lease. Default: 5m.
func WithLockLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockLease = d
		}
	}
}

// WithPeekAhead sets the change log reader's read-ahead window.
func WithPeekAhead(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.peekAhead = n
		}
	}
}

// WithPollInterval sets the Run loop's initial and maximum wait between
// passes.
func WithPollInterval(initial, maximum time.Duration) Option {
	return func(e *Engine) {
		if initial > 0 {
			e.pollInterval = initial
		}
		if maximum > 0 {
			e.maxPollInterval = maximum
		}
	}
}

// WithRouters sets the router registry. Default: route.NewRegistry().
func WithRouters(r *route.Registry) Option {
	return func(e *Engine) {
		e.routers = r
	}
}

// WithAlgorithms sets the batch algorithm registry. Default: batch.NewRegistry().
func WithAlgorithms(r *batch.Registry) Option {
	return func(e *Engine) {
		e.algorithms = r
	}
}

// WithGapOptions passes options to the gap tracker. The engine always adds
// its clock and the change log's pending-transaction probe, if it has one.
func WithGapOptions(opts ...gaps.Option) Option {
	return func(e *Engine) {
		e.gapOpts = append(e.gapOpts, opts...)
	}
}

// New creates an Engine. s holds the gap ledger and outgoing batches; log is
// the change log to drain, which may be s itself.
func New(s *store.Store, log source.ChangeLog, catalog Catalog, lk lock.ClusterLock, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		log:             log,
		catalog:         catalog,
		lock:            lk,
		clock:           clock.System{},
		passIDs:         UUIDv7Generator{},
		lockLease:       DefaultLockLease,
		peekAhead:       reader.DefaultPeekAhead,
		pollInterval:    DefaultPollInterval,
		maxPollInterval: DefaultMaxPollInterval,
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.routers == nil {
		e.routers = route.NewRegistry()
	}

	gapOpts := []gaps.Option{gaps.WithClock(e.clock)}
	if p := source.Probe(log); p != nil {
		gapOpts = append(gapOpts, gaps.WithProbe(p))
	}
	e.tracker = gaps.NewTracker(log, append(gapOpts, e.gapOpts...)...)
	e.dispatcher = route.NewDispatcher(catalog, e.routers)
	e.assembler = batch.NewAssembler(e.algorithms, e.clock)
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// ChannelResult is the outcome of one channel iteration.
type ChannelResult struct {
	ChannelID string          `json:"channel_id"`
	Stats     model.PassStats `json:"stats"`
	Cap       CapReason       `json:"cap,omitempty"`
	Error     string          `json:"error,omitempty"`

	Err error `json:"-"`
}

// PassResult is the outcome of one routing pass.
type PassResult struct {
	PassID    string          `json:"pass_id"`
	Skipped   bool            `json:"skipped"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Channels  []ChannelResult `json:"channels"`

	// LockLost is set when the cluster lock lapsed mid-pass. The pass
	// stops after the channel that noticed it.
	LockLost bool `json:"lock_lost,omitempty"`
}

// DataRead returns the number of change records read across all channels.
func (r PassResult) DataRead() int {
	n := 0
	for _, c := range r.Channels {
		n += c.Stats.DataRead
	}
	return n
}

// BatchesSealed returns the transport-visible batches sealed in the pass.
func (r PassResult) BatchesSealed() int {
	n := 0
	for _, c := range r.Channels {
		n += c.Stats.BatchesSealed
	}
	return n
}

// Failed returns the channels whose iteration ended in an error.
func (r PassResult) Failed() []ChannelResult {
	var out []ChannelResult
	for _, c := range r.Channels {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// RoutePass runs one routing pass. It returns a skipped result, not an
// error, when another process holds the cluster lock. Channel failures are
// reported in the result; the returned error is reserved for failures that
// prevent the pass from running at all.
func (e *Engine) RoutePass(ctx context.Context) (PassResult, error) {
	res := PassResult{PassID: e.passIDs.Generate(), StartTime: e.clock.Now()}

	e.setState(StateLockAcquiring)
	ok, err := e.lock.TryAcquire(ctx, lock.ActionRoute, e.lockLease)
	if err != nil {
		e.setState(StateIdle)
		res.EndTime = e.clock.Now()
		return res, fmt.Errorf("acquire %s lock: %w", lock.ActionRoute, err)
	}
	if !ok {
		e.setState(StateIdle)
		slog.Info("routing pass skipped: cluster lock held elsewhere", "pass_id", res.PassID)
		res.Skipped = true
		res.EndTime = e.clock.Now()
		return res, nil
	}
	defer func() {
		if res.LockLost {
			e.setState(StateIdle)
			return
		}
		e.unlock(ctx, res.PassID)
	}()

	slog.Info("routing pass started", "pass_id", res.PassID)

	for _, ch := range e.channels() {
		if err := ctx.Err(); err != nil {
			res.EndTime = e.clock.Now()
			return res, err
		}
		if !ch.Routable() {
			slog.Debug("channel suspended; not routing", "pass_id", res.PassID, "channel", ch.ID)
			continue
		}

		cr := e.routeChannel(ctx, res.PassID, ch)
		if cr.Err != nil {
			slog.Error("channel routing failed",
				"pass_id", res.PassID,
				"channel", ch.ID,
				"error", cr.Err,
			)
		}
		res.Channels = append(res.Channels, cr)
		if errors.Is(cr.Err, lock.ErrLockLost) {
			res.LockLost = true
			slog.Error("cluster lock lost; ending pass", "pass_id", res.PassID, "channel", ch.ID)
			break
		}
	}

	res.EndTime = e.clock.Now()
	slog.Info("routing pass finished",
		"pass_id", res.PassID,
		"channels", len(res.Channels),
		"data_read", res.DataRead(),
		"batches_sealed", res.BatchesSealed(),
		"failed", len(res.Failed()),
	)
	return res, nil
}

func (e *Engine) unlock(ctx context.Context, passID string) {
	e.setState(StateUnlocking)
	defer e.setState(StateIdle)

	// Release even when ctx was cancelled mid-pass.
	if err := e.lock.Release(context.WithoutCancel(ctx), lock.ActionRoute); err != nil {
		slog.Warn("failed to release cluster lock", "pass_id", passID, "error", err)
	}
}

// renewLock extends the pass's hold on the route lock. Locks that cannot
// be renewed rely on their lease outlasting the pass.
func (e *Engine) renewLock(ctx context.Context) error {
	r, ok := e.lock.(lock.Renewer)
	if !ok {
		return nil
	}
	return r.Renew(ctx, lock.ActionRoute, e.lockLease)
}

// channels returns the catalog's channels in processing order, ties broken
// by id.
func (e *Engine) channels() []model.Channel {
	chs := slices.Clone(e.catalog.Channels())
	slices.SortStableFunc(chs, func(a, b model.Channel) int {
		if c := cmp.Compare(a.ProcessingOrder, b.ProcessingOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return chs
}
