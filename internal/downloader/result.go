package downloader

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// ChunkError is one chunk's terminal failure.
type ChunkError struct {
	ChunkIndex int    `json:"chunkIndex"`
	Error      string `json:"error"`
	Err        error  `json:"-"`
}

type Result struct {
	JobID          string        `json:"jobId"`
	Success        bool          `json:"success"`
	Errors         []ChunkError  `json:"errors"`
	TotalSize      int64         `json:"totalSize"`
	BytesCommitted int64         `json:"bytesCommitted"`
	Chunks         int           `json:"chunks"`
	Completed      int           `json:"completed"`
	Elapsed        time.Duration `json:"elapsed"`
}

type collector struct {
	mu        sync.Mutex
	completed *roaring.Bitmap
	errors    []ChunkError
}

func newCollector() *collector {
	return &collector{completed: roaring.New()}
}

func (c *collector) complete(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed.Add(uint32(index))
}

func (c *collector) fail(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, ChunkError{ChunkIndex: index, Error: err.Error(), Err: err})
}

// result must only be called after every worker has returned.
func (c *collector) result(chunks int, closeErr error) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := slices.Clone(c.errors)
	if errs == nil {
		errs = []ChunkError{}
	}
	slices.SortStableFunc(errs, func(a, b ChunkError) int {
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
	completed := int(c.completed.GetCardinality())
	return &Result{
		Success:   len(errs) == 0 && completed == chunks && closeErr == nil,
		Errors:    errs,
		Chunks:    chunks,
		Completed: completed,
	}
}
