package source

import (
	"fmt"
	"sync/atomic"
)

const (
	StrategyRoundRobin = "round-robin"
	StrategyAffinity   = "affinity"
	StrategyFailover   = "failover"
)

// Selector picks the mirror for one attempt. attempt starts at 1.
type Selector interface {
	Pick(workerID, chunkIndex, attempt int) Source
}

// RoundRobin rotates through mirrors on every attempt.
type RoundRobin struct {
	sources []Source
	next    atomic.Uint64
}

func (r *RoundRobin) Pick(_, _, _ int) Source {
	n := r.next.Add(1) - 1
	return r.sources[n%uint64(len(r.sources))]
}

// Affinity pins each worker to a mirror and moves to the next mirror on retry.
type Affinity struct {
	sources []Source
}

func (a *Affinity) Pick(workerID, _, attempt int) Source {
	return a.sources[(workerID+attempt-1)%len(a.sources)]
}

// Failover uses the first mirror and walks down the list on retries.
type Failover struct {
	sources []Source
}

func (f *Failover) Pick(_, _, attempt int) Source {
	return f.sources[(attempt-1)%len(f.sources)]
}

// SelectorFor returns the named strategy over sources. An empty name
// means round-robin.
func SelectorFor(strategy string, sources []Source) (Selector, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources to select from")
	}
	switch strategy {
	case "", StrategyRoundRobin:
		return &RoundRobin{sources: sources}, nil
	case StrategyAffinity:
		return &Affinity{sources: sources}, nil
	case StrategyFailover:
		return &Failover{sources: sources}, nil
	default:
		return nil, fmt.Errorf("unknown mirror strategy %q", strategy)
	}
}
