package downloader

import (
	"errors"
	"fmt"
)

var ErrNoSources = errors.New("no source locators given")

// RangeUnsupportedError is returned when a range request got a non-success
// status, or a full-content answer where partial content was required.
type RangeUnsupportedError struct {
	ChunkIndex int
	Locator    string
	Status     int
}

func (e *RangeUnsupportedError) Error() string {
	return fmt.Sprintf("chunk %d: %s answered range request with status %d", e.ChunkIndex, e.Locator, e.Status)
}

// TransferError covers transport failures and bodies that do not match the
// requested range length.
type TransferError struct {
	ChunkIndex int
	Expected   int64
	Received   int64
	Err        error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chunk %d: transfer failed after %d of %d bytes: %v", e.ChunkIndex, e.Received, e.Expected, e.Err)
	}
	return fmt.Sprintf("chunk %d: size mismatch: expected %d bytes, got %d", e.ChunkIndex, e.Expected, e.Received)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

type WriteError struct {
	ChunkIndex int
	Offset     int64
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("chunk %d: write at offset %d: %v", e.ChunkIndex, e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError wraps the last attempt's error once a chunk has used
// all of its attempts.
type RetryExhaustedError struct {
	ChunkIndex int
	Attempts   int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("chunk %d: giving up after %d attempts: %v", e.ChunkIndex, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}
