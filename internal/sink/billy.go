package sink

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// Billy writes into a file of a go-billy filesystem. billy.File only offers
// Seek+Write, so every call holds the lock.
type Billy struct {
	mu     sync.Mutex
	file   billy.File
	closed bool
}

func OpenBilly(fs billy.Filesystem, name string) (*Billy, error) {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", name, err)
	}
	return &Billy{file: f}, nil
}

func (s *Billy) Reserve(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("error reserving %d bytes: %w", size, err)
	}
	return nil
}

func (s *Billy) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if _, err := s.file.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("error seeking to %d: %w", off, err)
	}
	return s.file.Write(p)
}

func (s *Billy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.file.Close()
}
