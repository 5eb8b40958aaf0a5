package gaps

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/rowroute/internal/clock"
	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/source"
)

// Defaults used when options are not given.
const (
	DefaultIDStep     = 1
	DefaultGapTimeout = time.Hour
)

// Ledger is the transactional view of the gap and data_event tables.
// store.Session implements it.
type Ledger interface {
	OpenGaps(ctx context.Context) ([]model.Gap, error)
	InsertGap(ctx context.Context, g model.Gap) (bool, error)
	SetGapStatus(ctx context.Context, start, end int64, status model.GapStatus, at time.Time) error
	AccountedIDs(ctx context.Context, start, end int64) ([]int64, error)
}

// Tracker reconciles the gap ledger against routed data.
// It holds no ledger state of its own and is safe for concurrent use
// with distinct ledgers.
type Tracker struct {
	log     source.ChangeLog
	probe   source.PendingTransactionProbe
	clock   clock.Clock
	idStep  int64
	timeout time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDStep sets the expected distance between consecutive ids.
// Sources that allocate ids in strides larger than 1 need it to avoid
// reporting every stride as a gap.
func WithIDStep(step int64) Option {
	return func(t *Tracker) {
		if step > 0 {
			t.idStep = step
		}
	}
}

// WithGapTimeout sets how long an empty gap may stay open before it is
// skipped regardless of pending transactions. Zero expires empty gaps on
// first sight.
func WithGapTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.timeout = d
		}
	}
}

// WithClock sets the clock used for gap timestamps and staleness.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithProbe overrides the pending-transaction probe. By default the change
// log is used if it implements source.PendingTransactionProbe.
func WithProbe(p source.PendingTransactionProbe) Option {
	return func(t *Tracker) {
		t.probe = p
	}
}

// NewTracker creates a Tracker reading the change log log.
func NewTracker(log source.ChangeLog, opts ...Option) *Tracker {
	t := &Tracker{
		log:     log,
		probe:   source.Probe(log),
		clock:   clock.System{},
		idStep:  DefaultIDStep,
		timeout: DefaultGapTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Result summarizes one reconciliation.
type Result struct {
	// Open is the reconciled set of OPEN gaps, ordered by start id. It
	// always ends with the open-ended trailing gap.
	Open []model.Gap

	HighWaterMark int64
	Resolved      int
	Created       int
	Skipped       int
}

// Ranges returns the open gaps as id ranges for a change-log query.
func (r Result) Ranges() []model.IDRange {
	return model.Ranges(r.Open)
}

// Reconcile brings the ledger up to date with the data events visible in l
// and returns the resulting open gaps. All writes go through l, so calling
// it inside a routing session makes gap changes atomic with the batches
// that caused them.
func (t *Tracker) Reconcile(ctx context.Context, l Ledger) (Result, error) {
	return t.reconcile(ctx, l, true)
}

// ResolveRouted is Reconcile without the change-log checks: gaps that
// gained data events are resolved and split, and every finite gap left
// empty stays OPEN until the next Reconcile evaluates it. It makes no
// calls to the change log, so it is safe to run inside a flush while the
// ledger's write transaction is held.
func (t *Tracker) ResolveRouted(ctx context.Context, l Ledger) (Result, error) {
	return t.reconcile(ctx, l, false)
}

func (t *Tracker) reconcile(ctx context.Context, l Ledger, evaluate bool) (Result, error) {
	now := t.clock.Now()

	open, err := l.OpenGaps(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: %w", err)
	}

	var res Result
	if !hasTrailing(open) {
		g, err := t.bootstrap(ctx, l, now)
		if err != nil {
			return Result{}, err
		}
		open = append(open, g)
		res.Created++
	}

	for _, g := range open {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		landmarks, err := l.AccountedIDs(ctx, g.StartID, g.EndID)
		if err != nil {
			return Result{}, fmt.Errorf("reconcile gap %s: %w", g, err)
		}

		if len(landmarks) == 0 {
			if g.OpenEnded() {
				res.Open = append(res.Open, g)
				res.HighWaterMark = max(res.HighWaterMark, g.StartID-1)
				continue
			}
			if !evaluate {
				res.Open = append(res.Open, g)
				continue
			}
			kept, err := t.evaluate(ctx, l, g, now)
			if err != nil {
				return Result{}, err
			}
			if kept {
				res.Open = append(res.Open, g)
			} else {
				res.Skipped++
			}
			continue
		}

		if err := l.SetGapStatus(ctx, g.StartID, g.EndID, model.GapResolved, now); err != nil {
			return Result{}, fmt.Errorf("resolve gap %s: %w", g, err)
		}
		res.Resolved++

		for _, child := range t.split(g, landmarks, now) {
			inserted, err := l.InsertGap(ctx, child)
			if err != nil {
				return Result{}, fmt.Errorf("reconcile gap %s: %w", g, err)
			}
			if !inserted {
				slog.Debug("gap already recorded", "gap", child.String())
				continue
			}
			res.Created++

			if child.OpenEnded() || !evaluate {
				res.Open = append(res.Open, child)
				continue
			}
			kept, err := t.evaluate(ctx, l, child, now)
			if err != nil {
				return Result{}, err
			}
			if kept {
				res.Open = append(res.Open, child)
			} else {
				res.Skipped++
			}
		}

		if g.OpenEnded() {
			res.HighWaterMark = max(res.HighWaterMark, landmarks[len(landmarks)-1])
		}
	}

	sortGaps(res.Open)

	slog.Debug("gaps reconciled",
		"open", len(res.Open),
		"resolved", res.Resolved,
		"created", res.Created,
		"skipped", res.Skipped,
		"high_water_mark", res.HighWaterMark,
	)
	return res, nil
}

// bootstrap creates the trailing gap for a ledger that has none, starting
// after the highest id already routed.
func (t *Tracker) bootstrap(ctx context.Context, l Ledger, now time.Time) (model.Gap, error) {
	ids, err := l.AccountedIDs(ctx, 1, model.OpenEnd)
	if err != nil {
		return model.Gap{}, fmt.Errorf("bootstrap gap ledger: %w", err)
	}
	start := int64(1)
	if len(ids) > 0 {
		start = ids[len(ids)-1] + 1
	}

	g := model.Gap{StartID: start, EndID: model.OpenEnd, Status: model.GapOpen, CreateTime: now, LastUpdateTime: now}
	if _, err := l.InsertGap(ctx, g); err != nil {
		return model.Gap{}, fmt.Errorf("bootstrap gap ledger: %w", err)
	}
	slog.Info("gap ledger bootstrapped", "gap", g.String())
	return g, nil
}

// split returns the child gaps left in g after removing landmarks, which
// must be ascending and inside g.
func (t *Tracker) split(g model.Gap, landmarks []int64, now time.Time) []model.Gap {
	var children []model.Gap
	prev := g.StartID - 1
	for _, id := range landmarks {
		if id-prev > t.idStep {
			children = append(children, newGap(prev+1, id-1, now))
		}
		prev = id
	}

	if g.OpenEnded() {
		return append(children, newGap(prev+1, model.OpenEnd, now))
	}
	if g.EndID+1-prev > t.idStep {
		children = append(children, newGap(prev+1, g.EndID, now))
	}
	return children
}

// evaluate decides whether a finite gap without landmarks stays open.
// It returns false after marking the gap skipped.
func (t *Tracker) evaluate(ctx context.Context, l Ledger, g model.Gap, now time.Time) (bool, error) {
	ids, err := t.log.QueryChangeIDs(ctx, "", g.StartID, g.EndID)
	if err != nil {
		return false, fmt.Errorf("check gap %s: %w", g, err)
	}
	if len(ids) > 0 {
		return true, nil
	}

	status := model.GapOpen
	if t.probe != nil {
		pending, err := t.probe.HasPendingTransactionsSince(ctx, g.CreateTime)
		if err != nil {
			return false, fmt.Errorf("probe pending transactions for gap %s: %w", g, err)
		}
		if !pending {
			status = model.GapSkippedNoPending
		}
	}
	if status == model.GapOpen && now.Sub(g.CreateTime) >= t.timeout {
		status = model.GapSkippedExpired
	}
	if status == model.GapOpen {
		return true, nil
	}

	if err := l.SetGapStatus(ctx, g.StartID, g.EndID, status, now); err != nil {
		return false, fmt.Errorf("skip gap %s: %w", g, err)
	}
	slog.Info("gap skipped", "gap", g.String(), "status", string(status))
	return false, nil
}

func newGap(start, end int64, now time.Time) model.Gap {
	return model.Gap{StartID: start, EndID: end, Status: model.GapOpen, CreateTime: now, LastUpdateTime: now}
}

func hasTrailing(gaps []model.Gap) bool {
	for _, g := range gaps {
		if g.OpenEnded() {
			return true
		}
	}
	return false
}

func sortGaps(gaps []model.Gap) {
	slices.SortFunc(gaps, func(a, b model.Gap) int {
		return cmp.Compare(a.StartID, b.StartID)
	})
}
