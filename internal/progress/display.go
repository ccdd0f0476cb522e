package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/turbodl/internal/output"
	"github.com/tanq16/turbodl/internal/utils"
)

// Display renders one job's progress. On a terminal it redraws a single
// line; otherwise it emits periodic log lines.
type Display struct {
	name   string
	out    io.Writer
	tty    bool
	tick   time.Duration
	logger zerolog.Logger

	done  atomic.Int64
	total atomic.Int64
	start time.Time

	numLines int
	doneCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDisplay(name string) *Display {
	tty := output.IsTerminal(os.Stdout)
	tick := 500 * time.Millisecond
	if !tty {
		tick = 5 * time.Second
	}
	return newDisplay(name, os.Stdout, tty, tick, log.Logger)
}

func newDisplay(name string, out io.Writer, tty bool, tick time.Duration, logger zerolog.Logger) *Display {
	return &Display{
		name:   output.Truncate(name, 25),
		out:    out,
		tty:    tty,
		tick:   tick,
		logger: logger,
		doneCh: make(chan struct{}),
	}
}

// Update has the signature of Func.
func (d *Display) Update(_ float64, done, total int64) {
	d.done.Store(done)
	d.total.Store(total)
}

func (d *Display) Start() {
	d.start = time.Now()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.render()
			case <-d.doneCh:
				return
			}
		}
	}()
}

// Stop halts the ticker and renders the final state.
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.doneCh)
		d.wg.Wait()
		d.render()
	})
}

func (d *Display) render() {
	done, total := d.done.Load(), d.total.Load()
	elapsed := time.Since(d.start).Seconds()
	speed := utils.FormatSpeed(done, elapsed)
	eta := "calculating..."
	if done > 0 && elapsed > 0 && total > done {
		bps := float64(done) / elapsed
		eta = utils.FormatETA(int64(float64(total-done) / bps))
	} else if total > 0 && done >= total {
		eta = "0s"
	}

	if !d.tty {
		d.logger.Info().Str("file", d.name).
			Str("done", utils.FormatBytes(uint64(max(done, 0)))).
			Str("total", utils.FormatBytes(uint64(max(total, 0)))).
			Str("speed", speed).Str("eta", eta).Msg("Download progress")
		return
	}
	if d.numLines > 0 {
		fmt.Fprintf(d.out, "\033[%dA\033[J", d.numLines)
	}
	fmt.Fprintf(d.out, "%s %s %s %s %s %s %s %s\n",
		output.FPending(d.name),
		output.ProgressBar(done, total, 30),
		output.StyleSymbols["bullet"],
		output.FDetail(utils.FormatBytes(uint64(max(done, 0)))+"/"+utils.FormatBytes(uint64(max(total, 0)))),
		output.StyleSymbols["bullet"],
		output.FDebug(speed),
		output.StyleSymbols["bullet"],
		output.FDebug("ETA "+eta),
	)
	d.numLines = 1
}
