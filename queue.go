package webhooks

import "sync"

// taskQueue is an unbounded FIFO of delivery tasks. Push never blocks the
// caller; Pop blocks until a task arrives or the queue is closed.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []DeliveryTask
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a task. Pushes after Close are dropped.
func (q *taskQueue) Push(task DeliveryTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, task)
	q.cond.Signal()
}

// Pop removes and returns the oldest task. It returns ok=false once the
// queue has been closed; remaining tasks are discarded at that point, since
// shutdown is a best-effort drain.
func (q *taskQueue) Pop() (DeliveryTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return DeliveryTask{}, false
	}
	task := q.items[0]
	q.items = q.items[1:]
	return task, true
}

// Len reports the current queue depth.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all blocked consumers. Idempotent.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
