package memory

import (
	"context"
	"sync"

	"github.com/drblury/eventflow/internal/cloudevents"
)

// queue is one consumer's event buffer. A bounded queue is a plain buffered
// channel, so a full queue blocks the publisher (backpressure). An unbounded
// queue runs a pump goroutine between two rendezvous channels with a slice
// buffer, so pushes never block on a slow consumer.
//
// The done channel replaces closing in/out: publishers racing a deregistration
// select on done and drop instead of sending into a queue nobody drains.
type queue struct {
	in   chan *cloudevents.Event
	out  chan *cloudevents.Event
	done chan struct{}
	once sync.Once
}

func newQueue(capacity int) *queue {
	q := &queue{done: make(chan struct{})}

	if capacity > 0 {
		ch := make(chan *cloudevents.Event, capacity)
		q.in = ch
		q.out = ch
		return q
	}

	q.in = make(chan *cloudevents.Event)
	q.out = make(chan *cloudevents.Event)
	go q.pump()
	return q
}

func (q *queue) pump() {
	var buf []*cloudevents.Event

	for {
		var (
			out  chan *cloudevents.Event
			next *cloudevents.Event
		)
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}

		select {
		case evt := <-q.in:
			buf = append(buf, evt)
		case out <- next:
			buf = buf[1:]
		case <-q.done:
			return
		}
	}
}

// push enqueues evt, blocking while a bounded queue is full. It reports false
// when the queue was closed before the event could be enqueued.
func (q *queue) push(ctx context.Context, evt *cloudevents.Event) (bool, error) {
	select {
	case q.in <- evt:
		return true, nil
	case <-q.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (q *queue) close() {
	q.once.Do(func() { close(q.done) })
}
