// Package broadcast fans one value stream out to a changing set of
// subscribers. Every subscriber owns a single-slot queue: a value that finds
// the slot occupied is dropped for that subscriber only, so the producer never
// blocks on a slow consumer. Subscribers that went away are pruned lazily
// during Send.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// slotSize is the per-subscriber buffer depth. Values are "latest tick"
// summaries, so depth stays at one.
const slotSize = 1

var (
	// ErrDisconnected is returned once a receiver's queue is empty and every
	// sender is gone, or after the receiver itself was closed.
	ErrDisconnected = errors.New("broadcast: channel disconnected")
	// ErrTimeout is returned when RecvTimeout elapses without a value.
	ErrTimeout = errors.New("broadcast: receive timed out")
	// ErrEmpty is returned by TryRecv when no value is waiting.
	ErrEmpty = errors.New("broadcast: channel empty")
	// ErrClosed is returned by Send on a sender handle that was closed.
	ErrClosed = errors.New("broadcast: sender closed")
)

// Stats counts what happened to the values routed to one subscriber.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

type topology[T any] struct {
	mu      sync.Mutex
	queues  []*queue[T]
	senders int
	closed  bool
}

func (t *topology[T]) subscribe() *queue[T] {
	q := newQueue[T](slotSize)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(q.ch)
		return q
	}
	t.queues = append(t.queues, q)
	return q
}

// Bounded creates a fan-out topology with exactly one subscriber.
func Bounded[T any]() (*Sender[T], *Receiver[T]) {
	t := &topology[T]{senders: 1}
	rx := &Receiver[T]{t: t, q: t.subscribe()}
	return &Sender[T]{t: t}, rx
}

// Sender is one handle onto the producing side of a topology.
type Sender[T any] struct {
	t      *topology[T]
	closed atomic.Bool
}

// Send offers v to every live subscriber without blocking. Subscribers whose
// slot is full miss v; subscribers that closed are removed.
func (s *Sender[T]) Send(v T) error {
	if s.closed.Load() {
		return ErrClosed
	}

	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	live := t.queues[:0]
	for _, q := range t.queues {
		switch q.trySend(v) {
		case sendOK, sendFull:
			live = append(live, q)
		case sendDisconnected:
		}
	}
	for i := len(live); i < len(t.queues); i++ {
		t.queues[i] = nil
	}
	t.queues = live
	return nil
}

// Clone returns another handle to the same logical sender.
func (s *Sender[T]) Clone() *Sender[T] {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := &Sender[T]{t: t}
	if t.closed || s.closed.Load() {
		clone.closed.Store(true)
		return clone
	}
	t.senders++
	return clone
}

// Close releases this handle. Closing the last handle disconnects every
// subscriber once its queue drains.
func (s *Sender[T]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	t.senders--
	if t.senders > 0 || t.closed {
		return
	}
	t.closed = true
	for _, q := range t.queues {
		close(q.ch)
	}
	t.queues = nil
}

// Subscribers returns the number of queues still part of the topology.
// Closed receivers are counted until the next Send prunes them.
func (s *Sender[T]) Subscribers() int {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return len(s.t.queues)
}

// Receiver is one subscriber with a private single-slot queue.
type Receiver[T any] struct {
	t *topology[T]
	q *queue[T]
}

// Recv blocks until a value arrives or the channel disconnects.
func (r *Receiver[T]) Recv() (T, error) {
	var zero T
	if r.q.disconnected() {
		return zero, ErrDisconnected
	}
	select {
	case v, ok := <-r.q.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-r.q.gone:
		return zero, ErrDisconnected
	}
}

// RecvTimeout is Recv bounded by d.
func (r *Receiver[T]) RecvTimeout(d time.Duration) (T, error) {
	var zero T
	if r.q.disconnected() {
		return zero, ErrDisconnected
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v, ok := <-r.q.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-r.q.gone:
		return zero, ErrDisconnected
	case <-timer.C:
		return zero, ErrTimeout
	}
}

// RecvContext is Recv bounded by ctx. It returns ctx.Err() on cancellation.
func (r *Receiver[T]) RecvContext(ctx context.Context) (T, error) {
	var zero T
	if r.q.disconnected() {
		return zero, ErrDisconnected
	}
	select {
	case v, ok := <-r.q.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-r.q.gone:
		return zero, ErrDisconnected
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryRecv returns immediately with ErrEmpty when nothing is waiting.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T
	if r.q.disconnected() {
		return zero, ErrDisconnected
	}
	select {
	case v, ok := <-r.q.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	default:
		return zero, ErrEmpty
	}
}

// C exposes the underlying queue for use in select statements. It is closed
// when every sender is gone.
func (r *Receiver[T]) C() <-chan T {
	return r.q.ch
}

// Clone registers a new independent subscriber. It only observes values sent
// after Clone returns. Cloning a closed receiver is allowed.
func (r *Receiver[T]) Clone() *Receiver[T] {
	return &Receiver[T]{t: r.t, q: r.t.subscribe()}
}

// Close drops this subscriber. The topology notices on the next Send.
func (r *Receiver[T]) Close() {
	r.q.disconnect()
}

// Stats reports the delivery counters for this subscriber.
func (r *Receiver[T]) Stats() Stats {
	return Stats{
		Delivered: r.q.delivered.Load(),
		Dropped:   r.q.dropped.Load(),
	}
}
