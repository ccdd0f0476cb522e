package sink

import "sync"

// Memory keeps the whole resource in a byte slice.
type Memory struct {
	mu     sync.RWMutex
	buf    []byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Reserve(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.resize(size)
	return nil
}

func (s *Memory) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if end := off + int64(len(p)); end > int64(len(s.buf)) {
		s.resize(end)
	}
	return copy(s.buf[off:], p), nil
}

func (s *Memory) resize(size int64) {
	if size <= int64(cap(s.buf)) {
		old := len(s.buf)
		s.buf = s.buf[:size]
		if int(size) > old {
			clear(s.buf[old:])
		}
		return
	}
	grown := make([]byte, size)
	copy(grown, s.buf)
	s.buf = grown
}

func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}

func (s *Memory) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Bytes returns a copy of the current content.
func (s *Memory) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}
