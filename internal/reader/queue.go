package reader

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/rowroute/internal/model"
)

// ErrStopped is returned to the producer when it tries to add a record after
// StopReading.
var ErrStopped = errors.New("reader stopped")

// peekQueue is the bounded FIFO between the read-ahead producer and the
// routing consumer.
//
// It has exactly one producer and one consumer. Each side waits on its own
// buffered signal channel (size 1); a signal coalesces with any pending one,
// and waiters always re-check state under the mutex after waking, so no
// wakeup is lost.
//
// The consumer may inspect buffered records (carriesAny) without removing
// them. That lookahead is what boundary detection is built on.
type peekQueue struct {
	mu       sync.Mutex
	records  []model.ChangeRecord
	capacity int
	closed   bool // producer finished
	stopped  bool // consumer asked for no more records

	consumerSignal chan struct{}
	producerSignal chan struct{}
}

func newPeekQueue(capacity int) *peekQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &peekQueue{
		records:        make([]model.ChangeRecord, 0, capacity),
		capacity:       capacity,
		consumerSignal: make(chan struct{}, 1),
		producerSignal: make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// push appends rec, blocking while the queue is full. It returns ErrStopped
// once the consumer has stopped reading; the stop flag is checked under the
// same lock as the append, so nothing is admitted after stop.
func (q *peekQueue) push(ctx context.Context, rec model.ChangeRecord) error {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return ErrStopped
		}
		if len(q.records) < q.capacity {
			q.records = append(q.records, rec)
			q.mu.Unlock()
			notify(q.consumerSignal)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.producerSignal:
		}
	}
}

// pop removes the front record, blocking while the queue is empty and more
// records may come. ok is false at end of stream: the producer finished or
// reading was stopped, and the buffer is drained.
func (q *peekQueue) pop(ctx context.Context) (rec model.ChangeRecord, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.records) > 0 {
			rec = q.records[0]
			q.records[0] = model.ChangeRecord{}
			if len(q.records) == 1 {
				q.records = q.records[:0]
			} else {
				q.records = q.records[1:]
			}
			q.mu.Unlock()
			notify(q.producerSignal)
			return rec, true, nil
		}
		if q.closed || q.stopped {
			q.mu.Unlock()
			return model.ChangeRecord{}, false, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.ChangeRecord{}, false, ctx.Err()
		case <-q.consumerSignal:
		}
	}
}

// waitFull blocks until the lookahead window is full, the producer has
// finished, or reading was stopped.
func (q *peekQueue) waitFull(ctx context.Context) error {
	for {
		q.mu.Lock()
		done := len(q.records) >= q.capacity || q.closed || q.stopped
		q.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.consumerSignal:
		}
	}
}

// carriesAny reports whether a buffered record belongs to one of txIDs.
func (q *peekQueue) carriesAny(txIDs map[string]struct{}) bool {
	if len(txIDs) == 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.records {
		if r.TransactionID == "" {
			continue
		}
		if _, ok := txIDs[r.TransactionID]; ok {
			return true
		}
	}
	return false
}

// close marks the producer finished and wakes the consumer.
func (q *peekQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	notify(q.consumerSignal)
}

// stop refuses further records and wakes both sides. Buffered records stay
// available to pop.
func (q *peekQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	notify(q.producerSignal)
	notify(q.consumerSignal)
}

func (q *peekQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
