package downloader

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/turbodl/internal/progress"
	"github.com/tanq16/turbodl/internal/source"
	"github.com/tanq16/turbodl/internal/utils"
)

const (
	DefaultWorkers     = 4
	DefaultMaxRetries  = 4
	DefaultRetryBase   = 500 * time.Millisecond
	DefaultRetryJitter = 200 * time.Millisecond
)

type Options struct {
	Workers    int   `validate:"gte=1"`
	ChunkSize  int64 `validate:"gte=1"`
	MaxRetries int   `validate:"gte=1"` // attempts per chunk, first one included
	BufferSize int   `validate:"gte=1"`

	RetryBase      time.Duration `validate:"gte=0"`
	RetryJitter    time.Duration `validate:"gte=0"`
	AttemptTimeout time.Duration `validate:"gte=0"` // 0 means no per-attempt limit

	// SkipRangeCheck silences the warning for sources that do not advertise
	// byte-range support. Ranged responses are verified either way.
	SkipRangeCheck bool
	MirrorStrategy string          `validate:"omitempty,oneof=round-robin affinity failover"`
	Selector       source.Selector `validate:"-"` // takes precedence over MirrorStrategy

	Progress progress.Func   `validate:"-"`
	Logger   *zerolog.Logger `validate:"-"`
}

func DefaultOptions() Options {
	return Options{
		Workers:        DefaultWorkers,
		ChunkSize:      utils.DefaultChunkSize,
		MaxRetries:     DefaultMaxRetries,
		BufferSize:     utils.DefaultBufferSize,
		RetryBase:      DefaultRetryBase,
		RetryJitter:    DefaultRetryJitter,
		MirrorStrategy: source.StrategyRoundRobin,
	}
}

// withDefaults fills zero counts and sizes, for which zero is never valid.
// Durations are kept as given: zero RetryBase or RetryJitter means no delay
// or no jitter.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Workers == 0 {
		o.Workers = def.Workers
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.BufferSize == 0 {
		o.BufferSize = def.BufferSize
	}
	if o.MirrorStrategy == "" {
		o.MirrorStrategy = def.MirrorStrategy
	}
	return o
}

var validate = validator.New()

func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return log.Logger
}
