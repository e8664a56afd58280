package queue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facewatch/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
	defaultMaxPriority   = 10
)

type item struct {
	frame Frame
	seq   uint64
}

// frameHeap orders by priority desc, then arrival.
type frameHeap []item

func (h frameHeap) Len() int { return len(h) }
func (h frameHeap) Less(i, j int) bool {
	if h[i].frame.Priority != h[j].frame.Priority {
		return h[i].frame.Priority > h[j].frame.Priority
	}
	return h[i].seq < h[j].seq
}
func (h frameHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}

// InMemoryQueue is a bounded priority queue with at-least-once delivery:
// a pulled frame stays unacknowledged until Ack or Nack.
type InMemoryQueue struct {
	capacity    int
	maxPriority uint8

	mu       sync.Mutex
	items    frameHeap
	seq      uint64
	inflight int
	closed   bool

	ready chan struct{} // capacity 1, signals that items may be available
	done  chan struct{}
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:    defaultQueueCapacity,
		maxPriority: defaultMaxPriority,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueDepth(0)

	return q
}

// Publish enqueues a frame without blocking. It returns ErrFull when the
// queue is at capacity and ErrClosed after Close.
func (q *InMemoryQueue) Publish(ctx context.Context, data []byte, priority uint8) error {
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected("context")
		return err
	}
	if priority > q.maxPriority {
		priority = q.maxPriority
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		metrics.RecordQueueRejected("full")
		return ErrFull
	}
	q.pushLocked(Frame{Data: data, Priority: priority}, 0)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueDepth(depth)
	q.signal()
	return nil
}

// pushLocked adds f; seq 0 allocates a fresh arrival number.
func (q *InMemoryQueue) pushLocked(f Frame, seq uint64) {
	if seq == 0 {
		q.seq++
		seq = q.seq
	}
	heap.Push(&q.items, item{frame: f, seq: seq})
}

func (q *InMemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pull blocks until the highest-priority frame is available. After Close,
// frames already queued are still handed out; ErrClosed is returned once the
// queue is drained.
func (q *InMemoryQueue) Pull(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(item)
			q.inflight++
			depth := len(q.items)
			q.mu.Unlock()

			metrics.UpdateQueueDepth(depth)
			if depth > 0 {
				q.signal()
			}
			it.frame.ReceivedAt = time.Now()
			return &memDelivery{q: q, it: it}, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Len returns the number of waiting frames.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Inflight returns the number of pulled but unacknowledged frames.
func (q *InMemoryQueue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// Close stops accepting frames and wakes blocked pullers.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

type memDelivery struct {
	q    *InMemoryQueue
	it   item
	done atomic.Bool
}

func (d *memDelivery) Frame() Frame { return d.it.frame }

func (d *memDelivery) Ack() error {
	if !d.done.CompareAndSwap(false, true) {
		return ErrAcknowledged
	}
	d.q.mu.Lock()
	d.q.inflight--
	d.q.mu.Unlock()
	return nil
}

// Nack with requeue puts the frame back at its original position, ahead of
// later frames of the same priority. Requeue ignores capacity and is allowed
// after Close so nothing pulled is lost.
func (d *memDelivery) Nack(requeue bool) error {
	if !d.done.CompareAndSwap(false, true) {
		return ErrAcknowledged
	}
	q := d.q
	q.mu.Lock()
	q.inflight--
	if requeue {
		f := d.it.frame
		f.ReceivedAt = time.Time{}
		q.pushLocked(f, d.it.seq)
	}
	depth := len(q.items)
	q.mu.Unlock()

	if requeue {
		metrics.UpdateQueueDepth(depth)
		q.signal()
	}
	return nil
}
