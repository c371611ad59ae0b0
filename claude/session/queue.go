package session

import (
	"context"
	"sync"
)

type queueItem struct {
	msg Message
	err error
}

// messageQueue is an unbounded FIFO between the reader goroutine and
// ReceiveMessages. push never blocks, so a slow consumer cannot stall
// control traffic.
type messageQueue struct {
	mu     sync.Mutex
	items  []queueItem
	notify chan struct{}
	done   chan struct{}
	ended  bool
	err    error
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *messageQueue) push(item queueItem) {
	q.mu.Lock()
	if q.ended {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// finish ends the queue. Queued items are still delivered, then err (if
// non-nil) once, then end of stream.
func (q *messageQueue) finish(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.ended = true
	q.err = err
	close(q.done)
}

// next blocks for the next item. ok is false at end of stream.
func (q *messageQueue) next(ctx context.Context) (item queueItem, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item = q.items[0]
			q.items[0] = queueItem{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return item, true
		}
		if q.ended {
			err := q.err
			q.err = nil
			q.mu.Unlock()
			if err != nil {
				return queueItem{err: err}, true
			}
			return queueItem{}, false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return queueItem{err: ctx.Err()}, true
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
