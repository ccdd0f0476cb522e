package downloader

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/tanq16/turbodl/internal/plan"
	"github.com/tanq16/turbodl/internal/source"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type attemptState int

const (
	attemptPending attemptState = iota
	attemptInProgress
	attemptCommitted
	attemptRolledBack
)

func (s attemptState) String() string {
	switch s {
	case attemptPending:
		return "pending"
	case attemptInProgress:
		return "in-progress"
	case attemptCommitted:
		return "committed"
	case attemptRolledBack:
		return "rolled-back"
	}
	return "unknown"
}

// attempt is one try at a chunk. Its bytes count toward in-flight progress
// until it either commits or rolls back.
type attempt struct {
	chunk  plan.Chunk
	number int
	state  attemptState
	bytes  int64
}

// Backoff returns the delay before attempt k (k >= 2): base*2^(k-2) plus a
// uniform jitter in [0, jitter).
func Backoff(base, jitter time.Duration, k int) time.Duration {
	if k < 2 {
		return 0
	}
	d := base << min(k-2, 30)
	if jitter > 0 {
		d += rand.N(jitter)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fetchChunk runs up to MaxRetries attempts for chunk and records exactly one
// outcome in the collector.
func (j *job) fetchChunk(ctx context.Context, workerID int, chunk plan.Chunk) {
	logger := j.logger.With().Int("chunk", chunk.Index).Int("worker", workerID).Logger()
	ctx = logger.WithContext(ctx)
	var lastErr error
	for k := 1; k <= j.opts.MaxRetries; k++ {
		if k > 1 {
			delay := Backoff(j.opts.RetryBase, j.opts.RetryJitter, k)
			logger.Debug().Int("attempt", k).Dur("backoff", delay).Msg("Retrying chunk")
			if err := sleepCtx(ctx, delay); err != nil {
				j.results.fail(chunk.Index, err)
				return
			}
		}
		if err := ctx.Err(); err != nil {
			j.results.fail(chunk.Index, err)
			return
		}

		src := j.selector.Pick(workerID, chunk.Index, k)
		a := &attempt{chunk: chunk, number: k}
		err := j.runAttempt(ctx, src, a)
		if err == nil {
			logger.Debug().Int("attempt", k).Int64("bytes", a.bytes).Str("source", src.Locator()).Msg("Chunk committed")
			j.results.complete(chunk.Index)
			return
		}
		if ctx.Err() != nil {
			j.results.fail(chunk.Index, ctx.Err())
			return
		}
		lastErr = err
		logger.Warn().Int("attempt", k).Str("source", src.Locator()).Err(err).Msg("Chunk attempt failed")
	}
	logger.Error().Int("attempts", j.opts.MaxRetries).Err(lastErr).Msg("Chunk abandoned")
	j.results.fail(chunk.Index, &RetryExhaustedError{ChunkIndex: chunk.Index, Attempts: j.opts.MaxRetries, Err: lastErr})
}

// runAttempt streams one ranged response into the sink. The attempt ends
// committed when exactly chunk.Len() bytes were written, rolled back otherwise.
func (j *job) runAttempt(ctx context.Context, src source.Source, a *attempt) (err error) {
	chunk := a.chunk
	ctx, span := tracer.Start(ctx, "chunk.attempt", trace.WithAttributes(
		attribute.Int("chunk.index", chunk.Index),
		attribute.Int("chunk.attempt", a.number),
		attribute.String("source", src.Locator()),
	))
	defer span.End()
	if j.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.opts.AttemptTimeout)
		defer cancel()
	}

	a.state = attemptInProgress
	defer func() {
		if err != nil {
			j.agg.Rollback(a.bytes)
			a.state = attemptRolledBack
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			j.agg.Commit(a.bytes)
			a.state = attemptCommitted
		}
		span.SetAttributes(attribute.Int64("chunk.bytes", a.bytes), attribute.String("chunk.state", a.state.String()))
	}()

	part, err := src.Fetch(ctx, chunk.Start, chunk.End)
	if err != nil {
		return &TransferError{ChunkIndex: chunk.Index, Expected: chunk.Len(), Err: err}
	}
	defer part.Body.Close()
	if part.Status < http.StatusOK || part.Status >= http.StatusMultipleChoices || (!j.plan.SingleChunk() && !part.Partial) {
		return &RangeUnsupportedError{ChunkIndex: chunk.Index, Locator: src.Locator(), Status: part.Status}
	}

	buf := make([]byte, j.opts.BufferSize)
	offset := chunk.Start
	for {
		n, readErr := part.Body.Read(buf)
		if n > 0 {
			if a.bytes+int64(n) > chunk.Len() {
				return &TransferError{ChunkIndex: chunk.Index, Expected: chunk.Len(), Received: a.bytes + int64(n)}
			}
			if _, writeErr := j.dst.WriteAt(buf[:n], offset); writeErr != nil {
				return &WriteError{ChunkIndex: chunk.Index, Offset: offset, Err: writeErr}
			}
			offset += int64(n)
			a.bytes += int64(n)
			j.agg.Add(int64(n))
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return &TransferError{ChunkIndex: chunk.Index, Expected: chunk.Len(), Received: a.bytes, Err: readErr}
		}
	}
	if a.bytes != chunk.Len() {
		return &TransferError{ChunkIndex: chunk.Index, Expected: chunk.Len(), Received: a.bytes}
	}
	return nil
}
