// Package progress tracks byte counts for a download job and renders them.
package progress

import (
	"sync"
)

// Func receives progress updates. Calls are serialized but may come from
// any worker goroutine; a Func must not call back into the Aggregator.
type Func func(fraction float64, done, total int64)

// Aggregator keeps committed bytes (finished chunk attempts) apart from
// in-flight bytes (attempts still streaming). Published progress is their
// sum, so it can move backwards when an attempt is rolled back.
type Aggregator struct {
	total int64
	fn    Func

	mu        sync.Mutex
	committed int64
	inFlight  int64
	started   bool
}

func NewAggregator(total int64, fn Func) *Aggregator {
	return &Aggregator{total: total, fn: fn}
}

// Start publishes the initial (0, 0, total) update once.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true
	a.publish()
}

func (a *Aggregator) Add(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight += n
	a.publish()
}

func (a *Aggregator) Rollback(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight -= n
	a.publish()
}

// Commit moves n bytes from in-flight to committed without publishing.
func (a *Aggregator) Commit(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed += n
	a.inFlight -= n
}

func (a *Aggregator) Committed() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

func (a *Aggregator) Done() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed + a.inFlight
}

// publish must be called with mu held.
func (a *Aggregator) publish() {
	if a.fn == nil {
		return
	}
	done := a.committed + a.inFlight
	fraction := 0.0
	if a.total > 0 {
		fraction = float64(done) / float64(a.total)
	}
	a.fn(fraction, done, a.total)
}
