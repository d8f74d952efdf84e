package realtime

import "sync"

// eventQueue is an unbounded FIFO between a transport's reader and its
// dispatch goroutine. The ring doubles once it is 70% full, so a slow
// listener never blocks the reader and nothing is dropped.
type eventQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	tail   int
	count  int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

func newEventQueue[T any](capacity int) *eventQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	q := &eventQueue[T]{buf: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends item. Returns false once the queue is closed.
func (q *eventQueue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if (q.count+1)*100 >= len(q.buf)*70 {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++

	q.cond.Signal()
	return true
}

// pop blocks until an item is available. After close it keeps returning
// queued items, then the zero value and false.
func (q *eventQueue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++

	return item, true
}

// close stops further pushes and wakes every waiting pop.
func (q *eventQueue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *eventQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *eventQueue[T]) capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// grow doubles the ring. Must be called with mu held.
func (q *eventQueue[T]) grow() {
	next := make([]T, len(q.buf)*2)

	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}

	q.buf = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}
