// Package downloader fetches one resource as concurrent ranged chunks with
// per-chunk retries, writing each chunk straight to its offset in a sink.
package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tanq16/turbodl/internal/plan"
	"github.com/tanq16/turbodl/internal/progress"
	"github.com/tanq16/turbodl/internal/queue"
	"github.com/tanq16/turbodl/internal/sink"
	"github.com/tanq16/turbodl/internal/source"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/tanq16/turbodl/internal/downloader")

// job holds everything the workers of one Download call share.
type job struct {
	id       string
	plan     plan.Plan
	queue    *queue.Queue
	dst      sink.Sink
	selector source.Selector
	agg      *progress.Aggregator
	results  *collector
	opts     Options
	logger   zerolog.Logger
}

// Download resolves the resource size from sources (mirrors of the same
// content), then fetches it in chunks into dst. dst is closed before
// Download returns, whatever the outcome.
//
// Errors before any chunk is fetched return a nil Result. Once workers have
// started a Result is always returned; chunk failures are reported in it
// rather than as an error. Cancelling ctx stops the workers and returns the
// partial Result with ctx.Err().
func Download(ctx context.Context, sources []source.Source, dst sink.Sink, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		closeQuietly(dst, opts.logger())
		return nil, err
	}
	if len(sources) == 0 {
		closeQuietly(dst, opts.logger())
		return nil, ErrNoSources
	}

	jobID := uuid.NewString()
	logger := opts.logger().With().Str("job", jobID).Logger()
	ctx = logger.WithContext(ctx)
	ctx, span := tracer.Start(ctx, "download", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.Int("job.mirrors", len(sources)),
	))
	defer span.End()

	selector := opts.Selector
	if selector == nil {
		var err error
		selector, err = source.SelectorFor(opts.MirrorStrategy, sources)
		if err != nil {
			closeQuietly(dst, logger)
			return nil, err
		}
	}

	info, err := source.Resolve(ctx, sources, !opts.SkipRangeCheck, logger)
	if err != nil {
		closeQuietly(dst, logger)
		return nil, err
	}
	p, err := plan.New(info.Size, opts.ChunkSize)
	if err != nil {
		closeQuietly(dst, logger)
		return nil, err
	}
	if err := dst.Reserve(info.Size); err != nil {
		closeQuietly(dst, logger)
		return nil, fmt.Errorf("error reserving %d bytes: %w", info.Size, err)
	}
	span.SetAttributes(attribute.Int64("job.size", info.Size), attribute.Int("job.chunks", p.Count()))

	j := &job{
		id:       jobID,
		plan:     p,
		queue:    queue.New(p.Count()),
		dst:      dst,
		selector: selector,
		agg:      progress.NewAggregator(info.Size, opts.Progress),
		results:  newCollector(),
		opts:     opts,
		logger:   logger,
	}
	workers := min(opts.Workers, p.Count())
	logger.Debug().Int64("size", info.Size).Int("chunks", p.Count()).Int("workers", workers).Msg("Starting download")

	start := time.Now()
	j.agg.Start()
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.work(ctx, w)
		}()
	}
	wg.Wait()

	closeErr := dst.Close()
	res := j.results.result(p.Count(), closeErr)
	res.JobID = jobID
	res.TotalSize = info.Size
	res.BytesCommitted = j.agg.Committed()
	res.Elapsed = time.Since(start)
	logger.Debug().Bool("success", res.Success).Int("completed", res.Completed).Int("failed", len(res.Errors)).Dur("elapsed", res.Elapsed).Msg("Download finished")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if closeErr != nil {
		return res, fmt.Errorf("error closing sink: %w", closeErr)
	}
	return res, nil
}

func (j *job) work(ctx context.Context, workerID int) {
	for {
		index, ok := j.queue.Next(ctx)
		if !ok {
			return
		}
		j.fetchChunk(ctx, workerID, j.plan.Chunk(index))
	}
}

func closeQuietly(dst sink.Sink, logger zerolog.Logger) {
	if dst == nil {
		return
	}
	if err := dst.Close(); err != nil {
		logger.Debug().Err(err).Msg("Closing sink after failed setup")
	}
}
