// Package engine implements the routing pass that drains the change log into
// outgoing batches.
//
// A pass runs under the cluster lock:
//
//	IDLE -> LOCK_ACQUIRING -> (per channel) GAP_RECONCILE -> STREAMING
//	     -> FLUSHING -> STREAMING ... -> UNLOCKING -> IDLE
//
// Channels are routed one after another in processing order. Within a
// channel the change log reader's producer goroutine fills a bounded
// read-ahead window while the pass goroutine dispatches each record to its
// destination nodes and adds it to per-node batches.
//
// Each flush is one database session: the open batches are sealed, their
// data events recorded, and the gaps holding the newly routed ids resolved,
// then the session commits and the lock lease is renewed. A failure rolls
// back only the current flush; batches committed earlier in the pass stay
// valid. Crossing a transaction boundary with batches open always flushes.
//
// A channel failure is logged and recorded in the pass result; the pass
// moves on to the next channel. Losing the lock ends the pass without
// releasing it; otherwise the lock is released on every exit path.
package engine
