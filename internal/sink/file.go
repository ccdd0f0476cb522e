package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// File writes into a local file with pwrite, which is safe for concurrent
// writes to disjoint ranges.
type File struct {
	f      *os.File
	closed atomic.Bool
}

// OpenFile opens (or creates) path for positioned writes. Existing content is
// kept until Reserve resizes the file.
func OpenFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening output file: %w", err)
	}
	return &File{f: f}, nil
}

func (s *File) Name() string {
	return s.f.Name()
}

func (s *File) Reserve(size int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.f.Truncate(size); err != nil {
		return fmt.Errorf("error reserving %d bytes: %w", size, err)
	}
	return nil
}

func (s *File) WriteAt(p []byte, off int64) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n, err := s.f.WriteAt(p, off)
	if errors.Is(err, os.ErrClosed) {
		return n, ErrClosed
	}
	return n, err
}

// Close flushes the file to stable storage and closes it.
func (s *File) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	syncErr := s.f.Sync()
	closeErr := s.f.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("error closing output file: %w", err)
	}
	return nil
}
