package broadcast

import (
	"sync"
	"sync/atomic"
)

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendDisconnected
)

// queue is a bounded point-to-point channel with a detectable receiving side.
// ch is only written and closed under the owning topology's lock.
type queue[T any] struct {
	ch       chan T
	gone     chan struct{}
	goneOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{
		ch:   make(chan T, capacity),
		gone: make(chan struct{}),
	}
}

func (q *queue[T]) trySend(v T) sendResult {
	select {
	case <-q.gone:
		return sendDisconnected
	default:
	}

	select {
	case q.ch <- v:
		q.delivered.Add(1)
		return sendOK
	default:
		q.dropped.Add(1)
		return sendFull
	}
}

func (q *queue[T]) disconnect() {
	q.goneOnce.Do(func() { close(q.gone) })
}

func (q *queue[T]) disconnected() bool {
	select {
	case <-q.gone:
		return true
	default:
		return false
	}
}
