// Package queue holds the pending chunk indices of a download job.
package queue

import "context"

// Queue is a fixed set of chunk indices, claimed in ascending order. It is
// safe for concurrent use; every index is handed out at most once.
type Queue struct {
	tasks chan int
}

// New returns a queue holding 0..n-1.
func New(n int) *Queue {
	n = max(n, 0)
	tasks := make(chan int, n)
	for i := range n {
		tasks <- i
	}
	close(tasks)
	return &Queue{tasks: tasks}
}

// Next claims the next pending index. It returns false once the queue is
// drained or ctx is done.
func (q *Queue) Next(ctx context.Context) (int, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	select {
	case <-ctx.Done():
		return 0, false
	case idx, ok := <-q.tasks:
		return idx, ok
	}
}

// Len is the number of indices not yet claimed.
func (q *Queue) Len() int {
	return len(q.tasks)
}
