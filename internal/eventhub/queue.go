package eventhub

import (
	"context"
	"sync"

	"github.com/chainrelay/chainrelay/types"
)

// eventQueue is a bounded FIFO that drops its oldest entry when full.
type eventQueue struct {
	size     int
	notifyCh chan struct{}

	mtx     sync.Mutex
	items   []*types.Event
	dropped uint64
	closed  bool
}

func newEventQueue(size int) *eventQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &eventQueue{
		size:     size,
		notifyCh: make(chan struct{}, 1),
		items:    make([]*types.Event, 0, size),
	}
}

// push appends ev and reports whether an older event had to be dropped.
func (q *eventQueue) push(ev *types.Event) bool {
	q.mtx.Lock()
	if q.closed {
		q.mtx.Unlock()
		return false
	}
	dropped := false
	if len(q.items) == q.size {
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, ev)
	q.mtx.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return dropped
}

// next blocks until an event is queued, the queue is closed or ctx is done.
func (q *eventQueue) next(ctx context.Context) (*types.Event, error) {
	for {
		q.mtx.Lock()
		if q.closed {
			q.mtx.Unlock()
			return nil, ErrUnregistered
		}
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mtx.Unlock()
			return ev, nil
		}
		q.mtx.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notifyCh:
		}
	}
}

func (q *eventQueue) close() {
	q.mtx.Lock()
	q.closed = true
	q.items = nil
	q.mtx.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

func (q *eventQueue) droppedCount() uint64 {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.dropped
}

func (q *eventQueue) len() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return len(q.items)
}
