// Package plan partitions a resource's byte space into fixed-size chunks.
package plan

import "fmt"

// InvalidPlanError is returned when the total size or chunk size cannot
// produce a plan.
type InvalidPlanError struct {
	TotalSize int64
	ChunkSize int64
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan: total size %d and chunk size %d must both be positive", e.TotalSize, e.ChunkSize)
}

// Chunk is one byte range of the resource. End is inclusive.
type Chunk struct {
	Index int
	Start int64
	End   int64
}

func (c Chunk) Len() int64 {
	return c.End - c.Start + 1
}

// Range renders the chunk as an HTTP Range header value.
func (c Chunk) Range() string {
	return fmt.Sprintf("bytes=%d-%d", c.Start, c.End)
}

type Plan struct {
	totalSize int64
	chunkSize int64
	count     int
}

func New(totalSize, chunkSize int64) (Plan, error) {
	if totalSize <= 0 || chunkSize <= 0 {
		return Plan{}, &InvalidPlanError{TotalSize: totalSize, ChunkSize: chunkSize}
	}
	count := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		count++
	}
	return Plan{totalSize: totalSize, chunkSize: chunkSize, count: int(count)}, nil
}

func (p Plan) TotalSize() int64 { return p.totalSize }
func (p Plan) ChunkSize() int64 { return p.chunkSize }
func (p Plan) Count() int       { return p.count }

// SingleChunk reports whether the whole resource fits in one chunk, in which
// case a full-content response is as good as a partial one.
func (p Plan) SingleChunk() bool {
	return p.totalSize <= p.chunkSize
}

// Chunk returns the byte range for index. It panics when index is outside
// [0, Count()).
func (p Plan) Chunk(index int) Chunk {
	if index < 0 || index >= p.count {
		panic(fmt.Sprintf("plan: chunk index %d out of range [0, %d)", index, p.count))
	}
	start := int64(index) * p.chunkSize
	end := min(start+p.chunkSize-1, p.totalSize-1)
	return Chunk{Index: index, Start: start, End: end}
}

func (p Plan) Chunks() []Chunk {
	chunks := make([]Chunk, p.count)
	for i := range p.count {
		chunks[i] = p.Chunk(i)
	}
	return chunks
}
