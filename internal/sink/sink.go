// Package sink provides positioned byte stores that receive chunk data at
// its final offset.
//
// Every Sink must accept concurrent WriteAt calls for disjoint ranges. Stores
// that cannot do that natively (seek+write files, plain buffers) serialize
// calls internally, or can be wrapped with Serialized.
package sink

import (
	"errors"
	"io"
	"sync"
)

var ErrClosed = errors.New("sink: closed")

type Sink interface {
	io.WriterAt
	io.Closer
	// Reserve sizes the store to exactly size bytes before any chunk lands.
	Reserve(size int64) error
}

// Serialized wraps s so that all calls run one at a time.
func Serialized(s Sink) Sink {
	return &serialized{s: s}
}

type serialized struct {
	mu sync.Mutex
	s  Sink
}

func (w *serialized) Reserve(size int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Reserve(size)
}

func (w *serialized) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.WriteAt(p, off)
}

func (w *serialized) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Close()
}
