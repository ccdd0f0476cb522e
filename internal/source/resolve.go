package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Resolve probes the mirrors in order and returns the first usable Info.
// A missing Accept-Ranges "bytes" indicator only produces a warning when
// checkRanges is set; the first ranged response is the real test.
func Resolve(ctx context.Context, sources []Source, checkRanges bool, logger zerolog.Logger) (Info, error) {
	ctx = logger.WithContext(ctx)
	if len(sources) == 0 {
		return Info{}, &SizeResolutionError{Locator: "<none>", Reason: "no source locators given"}
	}
	var errs []error
	for _, src := range sources {
		info, err := src.Probe(ctx)
		if err == nil && info.Size <= 0 {
			err = &SizeResolutionError{Locator: src.Locator(), Reason: fmt.Sprintf("invalid size %d", info.Size)}
		}
		if err != nil {
			logger.Warn().Str("op", "source/resolve").Str("locator", src.Locator()).Err(err).Msg("Size probe failed")
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if checkRanges && !info.SupportsRanges() {
			logger.Warn().Str("op", "source/resolve").Str("locator", src.Locator()).Str("acceptRanges", info.AcceptRanges).Msg("Source did not advertise byte ranges, ranged responses will be checked per chunk")
		}
		logger.Debug().Str("op", "source/resolve").Str("locator", src.Locator()).Int64("size", info.Size).Msg("Resolved resource size")
		return info, nil
	}

	if len(errs) == 1 {
		var sizeErr *SizeResolutionError
		if errors.As(errs[0], &sizeErr) {
			return Info{}, sizeErr
		}
		return Info{}, &SizeResolutionError{Locator: sources[0].Locator(), Reason: "probe failed", Err: errs[0]}
	}
	return Info{}, &SizeResolutionError{
		Locator: fmt.Sprintf("%d mirrors", len(sources)),
		Reason:  "no mirror reported a usable size",
		Err:     errors.Join(errs...),
	}
}
