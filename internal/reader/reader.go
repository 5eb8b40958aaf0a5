// Package reader streams a channel's change records from the change log with
// a bounded read-ahead window and detects source-transaction boundaries.
//
// One producer goroutine runs the change-log query and fills the window;
// the consumer calls Take. The window lets the consumer see whether a
// transaction it has already started still has rows coming, so batches are
// never closed in the middle of one.
package reader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/source"
)

// DefaultPeekAhead is the default read-ahead window.
const DefaultPeekAhead = 100

// Entry is one record handed to the consumer.
type Entry struct {
	Record model.ChangeRecord

	// Boundary is true when every transaction seen since the previous
	// boundary has been fully taken, so the consumer may close batches
	// before routing Record.
	Boundary bool
}

// Reader is a single-producer, single-consumer change record stream.
// Take and Close belong to the consumer goroutine. StopReading may be
// called from any goroutine once Start has returned.
type Reader struct {
	log       source.ChangeLog
	channelID string
	ranges    []model.IDRange
	limit     int

	q      *peekQueue
	cancel context.CancelFunc
	done   chan struct{}
	err    error // producer error, written before done is closed

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	// Consumer-owned boundary state.
	hasPrev bool
	segment map[string]struct{}
	taken   int
}

// Option configures a Reader.
type Option func(*Reader)

// WithPeekAhead sets the read-ahead window size.
func WithPeekAhead(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.q = newPeekQueue(n)
		}
	}
}

// WithLimit bounds the number of rows requested from the change log.
func WithLimit(n int) Option {
	return func(r *Reader) {
		r.limit = n
	}
}

// New creates a reader over channelID's records within ranges.
// Call Start to begin reading.
func New(log source.ChangeLog, channelID string, ranges []model.IDRange, opts ...Option) *Reader {
	r := &Reader{
		log:       log,
		channelID: channelID,
		ranges:    ranges,
		q:         newPeekQueue(DefaultPeekAhead),
		done:      make(chan struct{}),
		segment:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the producer. It must be called once.
func (r *Reader) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if r.stopped.Load() {
		cancel()
	}
	go r.produce(pctx)
}

func (r *Reader) produce(ctx context.Context) {
	defer close(r.done)
	defer r.q.close()

	cur, err := r.log.QueryChangeRecords(ctx, r.channelID, r.ranges, r.limit)
	if err != nil {
		r.err = fmt.Errorf("read channel %s: %w", r.channelID, err)
		return
	}
	defer cur.Close()

	n := 0
	for cur.Next() {
		if r.stopped.Load() {
			break
		}
		if err := r.q.push(ctx, cur.Record()); err != nil {
			if err != ErrStopped && !r.stopped.Load() {
				r.err = fmt.Errorf("read channel %s: %w", r.channelID, err)
			}
			break
		}
		n++
	}
	if err := cur.Err(); err != nil && !r.stopped.Load() && r.err == nil {
		r.err = fmt.Errorf("read channel %s: %w", r.channelID, err)
	}

	slog.Debug("change log reader finished",
		"channel", r.channelID,
		"fetched", n,
		"stopped", r.stopped.Load(),
	)
}

// Take returns the next record in ascending id order. It blocks while the
// window is empty and the producer is still fetching. At the end of the
// stream it returns io.EOF, or the producer's error if the query failed.
// Records already buffered are always returned before either.
func (r *Reader) Take(ctx context.Context) (Entry, error) {
	if !r.started.Load() {
		return Entry{}, fmt.Errorf("read channel %s: reader not started", r.channelID)
	}

	rec, ok, err := r.q.pop(ctx)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		if !r.stopped.Load() {
			<-r.done
			if r.err != nil {
				return Entry{}, r.err
			}
		}
		return Entry{}, io.EOF
	}

	if err := r.q.waitFull(ctx); err != nil {
		return Entry{}, err
	}

	boundary := r.hasPrev && !r.inSegment(rec.TransactionID) && !r.q.carriesAny(r.segment)
	if boundary || !r.hasPrev {
		clear(r.segment)
	}
	if rec.TransactionID != "" {
		r.segment[rec.TransactionID] = struct{}{}
	}
	r.hasPrev = true
	r.taken++

	return Entry{Record: rec, Boundary: boundary}, nil
}

func (r *Reader) inSegment(txID string) bool {
	if txID == "" {
		return false
	}
	_, ok := r.segment[txID]
	return ok
}

// StopReading stops the producer. Records already buffered can still be
// taken; nothing new is admitted. Safe to call more than once.
func (r *Reader) StopReading() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		r.q.stop()
		if r.cancel != nil {
			r.cancel()
		}
	})
}

// Stopped reports whether StopReading was called.
func (r *Reader) Stopped() bool {
	return r.stopped.Load()
}

// Taken returns the number of records handed to the consumer.
func (r *Reader) Taken() int {
	return r.taken
}

// Buffered returns the number of records in the window.
func (r *Reader) Buffered() int {
	return r.q.size()
}

// Close stops the reader and waits for the producer to exit.
func (r *Reader) Close() {
	r.StopReading()
	if r.started.Load() {
		<-r.done
	}
}
