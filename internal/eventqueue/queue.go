// Package eventqueue implements the bounded event pipeline (component C1 of
// the core design): a fixed-capacity FIFO with a non-blocking producer and
// a blocking, batch-draining consumer side.
//
// The original C implementation is a byte-ring (ring_buf_put/ring_buf_get)
// guarded by one mutex, with a counting semaphore signalling "at least one
// event may be available". This package gets the same contract from
// github.com/Workiva/go-datastructures/queue.RingBuffer: Offer is the
// non-blocking producer path (queue-full surfaces immediately, matching "no
// blocking enqueue"), Get is the blocking consumer wait (the
// semaphore-acquire step), and Dispose unblocks every blocked Get exactly
// once, which is the real join shutdown needs instead of a fixed sleep.
package eventqueue

import (
	"errors"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// pollInterval is the timeout passed to RingBuffer.Poll for the
// "try to get one more without blocking the batch" step. A timeout of
// exactly 0 is ambiguous across RingBuffer implementations (some treat it
// as "wait forever"); a microsecond is indistinguishable from non-blocking
// for this package's purposes while staying unambiguous.
const pollInterval = time.Microsecond

// ErrFull is returned by Post when the queue has no room for another event.
var ErrFull = errors.New("eventqueue: full")

// ErrClosed is returned by Post or Drain after Dispose.
var ErrClosed = errors.New("eventqueue: closed")

// Queue is a bounded FIFO of events of type T.
type Queue[T any] struct {
	rb *queue.RingBuffer
}

// New returns a Queue with room for capacity events, rounded up to the next
// power of two by the underlying RingBuffer.
func New[T any](capacity uint64) *Queue[T] {
	return &Queue[T]{rb: queue.NewRingBuffer(capacity)}
}

// Post enqueues ev without blocking. It returns ErrFull if the queue has no
// spare capacity, or ErrClosed after Dispose.
func (q *Queue[T]) Post(ev T) error {
	ok, err := q.rb.Offer(ev)
	if err != nil {
		return ErrClosed
	}
	if !ok {
		return ErrFull
	}
	return nil
}

// Drain blocks until at least one event is available, then returns a batch
// of up to max events without blocking further. It returns ErrClosed once
// Dispose has been called, even if events are still buffered; those events
// are not returned.
//
// Partial records never occur in this translation (events are whole Go
// values, not raw bytes), but the "never return a fractional record"
// invariant from the original byte-ring design is preserved by construction.
func (q *Queue[T]) Drain(max int) ([]T, error) {
	first, err := q.rb.Get()
	if err != nil {
		return nil, ErrClosed
	}

	batch := make([]T, 0, max)
	batch = append(batch, first.(T))

	for len(batch) < max {
		v, err := q.rb.Poll(pollInterval)
		if err != nil {
			break
		}
		batch = append(batch, v.(T))
	}
	return batch, nil
}

// TryGet pops a single event without blocking. It returns ErrFull-shaped
// semantics inverted: ok is false and err is nil when the queue is
// momentarily empty, distinct from ErrClosed after Dispose. This backs the
// guest-callable get_event poll path (§6), which must never block the
// calling guest.
func (q *Queue[T]) TryGet() (ev T, ok bool, err error) {
	v, pollErr := q.rb.Poll(pollInterval)
	if pollErr != nil {
		if q.rb.IsDisposed() {
			return ev, false, ErrClosed
		}
		return ev, false, nil
	}
	return v.(T), true, nil
}

// Len reports the number of events currently buffered.
func (q *Queue[T]) Len() int {
	return int(q.rb.Len())
}

// Cap reports the queue's fixed capacity, in events, after rounding.
func (q *Queue[T]) Cap() int {
	return int(q.rb.Cap())
}

// Dispose unblocks every goroutine currently blocked in Drain and makes all
// subsequent Post/Drain calls return ErrClosed. It is idempotent.
func (q *Queue[T]) Dispose() {
	q.rb.Dispose()
}
