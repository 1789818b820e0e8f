package event

import (
	"log/slog"
	"sync/atomic"

	"cross_arb/internal/metrics"
)

// Signal wakes the single consumer when any of its queues receives a message.
type Signal chan struct{}

// NewSignal creates a wake-up signal with room for one pending notification.
func NewSignal() Signal {
	return make(Signal, 1)
}

// Notify never blocks. Notifications coalesce.
func (s Signal) Notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}

// HealthReporter is read by the admission gate.
type HealthReporter interface {
	Name() string
	Healthy() bool
}

// QueueStats is a point-in-time view of a queue.
type QueueStats struct {
	Name      string `json:"name"`
	Len       int    `json:"len"`
	Cap       int    `json:"cap"`
	Healthy   bool   `json:"healthy"`
	Overflows uint64 `json:"overflows"`
}

// Queue is a bounded multi-producer single-consumer queue. Offer never blocks:
// a full queue drops the message and marks the queue unhealthy until
// SetHealthy is called.
type Queue[T any] struct {
	name      string
	ch        chan T
	wake      Signal
	healthy   atomic.Bool
	overflows atomic.Uint64
}

// NewQueue creates a queue. wake may be nil.
func NewQueue[T any](name string, capacity int, wake Signal) *Queue[T] {
	q := &Queue[T]{
		name: name,
		ch:   make(chan T, capacity),
		wake: wake,
	}
	q.healthy.Store(true)
	return q
}

func (q *Queue[T]) Name() string { return q.name }

// Offer enqueues v. Returns false if the queue was full.
func (q *Queue[T]) Offer(v T) bool {
	select {
	case q.ch <- v:
		if q.wake != nil {
			q.wake.Notify()
		}
		return true
	default:
	}

	q.overflows.Add(1)
	metrics.QueueOverflows.WithLabelValues(q.name).Inc()
	if q.healthy.Swap(false) {
		slog.Error("QUEUE_OVERFLOW",
			slog.String("queue", q.name),
			slog.Int("cap", cap(q.ch)))
	}
	return false
}

// DrainTo appends every message currently queued to buf. Only the consumer
// may call it.
func (q *Queue[T]) DrainTo(buf []T) []T {
	for {
		select {
		case v := <-q.ch:
			buf = append(buf, v)
		default:
			return buf
		}
	}
}

func (q *Queue[T]) Healthy() bool { return q.healthy.Load() }

// SetHealthy is the only way to restore a queue after an overflow.
func (q *Queue[T]) SetHealthy(healthy bool) {
	q.healthy.Store(healthy)
}

func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Stats returns a snapshot of the queue.
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		Name:      q.name,
		Len:       len(q.ch),
		Cap:       cap(q.ch),
		Healthy:   q.healthy.Load(),
		Overflows: q.overflows.Load(),
	}
}
