package session

import (
	"context"
	"sync"

	"trackway/internal/proto"
)

// queue is an unbounded FIFO with a single consumer. Producers never block,
// so a slow subscriber cannot stall the reader or lose messages.
type queue struct {
	mu     sync.Mutex
	items  []proto.Message
	closed bool
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(msg proto.Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// close stops further pushes. Items already queued are still returned.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue) pop(ctx context.Context) (proto.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = proto.Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return proto.Message{}, ErrTerminated
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return proto.Message{}, ctx.Err()
		}
	}
}
