package plan

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		chunkSize int64
	}{
		{name: "zero total", total: 0, chunkSize: 10},
		{name: "negative total", total: -5, chunkSize: 10},
		{name: "zero chunk", total: 10, chunkSize: 0},
		{name: "negative chunk", total: 10, chunkSize: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.total, tt.chunkSize)
			var planErr *InvalidPlanError
			if !errors.As(err, &planErr) {
				t.Fatalf("expected InvalidPlanError, got %v", err)
			}
			if planErr.TotalSize != tt.total || planErr.ChunkSize != tt.chunkSize {
				t.Errorf("error carries %d/%d, want %d/%d", planErr.TotalSize, planErr.ChunkSize, tt.total, tt.chunkSize)
			}
		})
	}
}

func TestPlan_Examples(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		chunkSize int64
		count     int
		lastStart int64
		single    bool
	}{
		{name: "even split", total: 10_485_760, chunkSize: 1_048_576, count: 10, lastStart: 9_437_184},
		{name: "short last chunk", total: 10, chunkSize: 3, count: 4, lastStart: 9},
		{name: "chunk equals total", total: 100, chunkSize: 100, count: 1, lastStart: 0, single: true},
		{name: "chunk larger than total", total: 100, chunkSize: 1 << 20, count: 1, lastStart: 0, single: true},
		{name: "one byte", total: 1, chunkSize: 1, count: 1, lastStart: 0, single: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.total, tt.chunkSize)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Count() != tt.count {
				t.Errorf("Count() = %d, want %d", p.Count(), tt.count)
			}
			if p.SingleChunk() != tt.single {
				t.Errorf("SingleChunk() = %v, want %v", p.SingleChunk(), tt.single)
			}
			last := p.Chunk(p.Count() - 1)
			if last.Start != tt.lastStart || last.End != tt.total-1 {
				t.Errorf("last chunk = [%d, %d], want [%d, %d]", last.Start, last.End, tt.lastStart, tt.total-1)
			}
		})
	}
}

func TestPlan_Tiles(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		total := r.Int64N(1<<20) + 1
		chunkSize := r.Int64N(1<<16) + 1
		p, err := New(total, chunkSize)
		if err != nil {
			t.Fatalf("New(%d, %d): %v", total, chunkSize, err)
		}
		wantCount := (total + chunkSize - 1) / chunkSize
		if int64(p.Count()) != wantCount {
			t.Fatalf("New(%d, %d).Count() = %d, want %d", total, chunkSize, p.Count(), wantCount)
		}
		var next int64
		for i, c := range p.Chunks() {
			if c.Index != i {
				t.Fatalf("chunk %d has index %d", i, c.Index)
			}
			if c.Start != next {
				t.Fatalf("total=%d chunk=%d: chunk %d starts at %d, want %d", total, chunkSize, i, c.Start, next)
			}
			if c.End < c.Start || c.Len() > chunkSize {
				t.Fatalf("chunk %d has bad range [%d, %d]", i, c.Start, c.End)
			}
			next = c.End + 1
		}
		if next != total {
			t.Fatalf("total=%d chunk=%d: chunks cover [0, %d)", total, chunkSize, next)
		}
	}
}

func TestChunk_Range(t *testing.T) {
	c := Chunk{Index: 2, Start: 200, End: 299}
	if got := c.Range(); got != "bytes=200-299" {
		t.Errorf("Range() = %q", got)
	}
	if c.Len() != 100 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestPlan_ChunkOutOfRangePanics(t *testing.T) {
	p, _ := New(10, 5)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out of range index")
		}
	}()
	p.Chunk(2)
}
