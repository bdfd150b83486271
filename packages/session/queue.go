package session

import "sync"

// workQueue runs operations one at a time, in order, on its own goroutine.
// It starts suspended; release lets it run and can happen only once.
type workQueue struct {
	mu       sync.Mutex
	ops      []func()
	released bool
	running  bool
}

func newWorkQueue() *workQueue {
	return &workQueue{}
}

func (q *workQueue) add(op func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	q.startLocked()
}

// release reports whether this call released the queue.
func (q *workQueue) release() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return false
	}
	q.released = true
	q.startLocked()
	return true
}

func (q *workQueue) isReleased() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.released
}

func (q *workQueue) startLocked() {
	if !q.released || q.running || len(q.ops) == 0 {
		return
	}
	q.running = true
	go q.drain()
}

func (q *workQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()
		op()
	}
}

// Executor decides where progress callbacks run.
type Executor func(func())

// Inline runs callbacks on the goroutine delivering the event.
var Inline Executor = func(fn func()) { fn() }

// Serial returns an Executor that runs callbacks in order on a dedicated
// goroutine.
func Serial() Executor {
	q := newWorkQueue()
	q.release()
	return q.add
}
