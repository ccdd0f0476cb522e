package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/turbodl/internal/downloader"
	"github.com/tanq16/turbodl/internal/output"
	"github.com/tanq16/turbodl/internal/progress"
	"github.com/tanq16/turbodl/internal/sink"
	"github.com/tanq16/turbodl/internal/source"
	"github.com/tanq16/turbodl/internal/utils"
)

func sourceOptions() source.Options {
	return source.Options{
		HTTPClient: utils.NewHTTPClient(cfg.HTTPClientConfig()),
		S3Profile:  cfg.S3Profile,
	}
}

func runDownload(ctx context.Context, locators []string) error {
	sources, err := source.NewAll(ctx, locators, sourceOptions())
	if err != nil {
		return err
	}
	path, err := resolveOutputPath(ctx, outputPath, sources)
	if err != nil {
		return err
	}
	dst, err := sink.OpenFile(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}

	opts := cfg.DownloadOptions()
	logger := utils.GetLogger("downloader")
	opts.Logger = &logger
	var display *progress.Display
	if !jsonOutput {
		output.PrintInfo(fmt.Sprintf("%s %s %s %s", output.StyleSymbols["pending"], sources[0].Locator(), output.StyleSymbols["arrow"], path))
		display = progress.NewDisplay(filepath.Base(path))
		opts.Progress = display.Update
		display.Start()
	}
	res, err := downloader.Download(ctx, sources, dst, opts)
	if display != nil {
		display.Stop()
	}
	if res == nil {
		os.Remove(path)
		return err
	}

	if jsonOutput {
		data, jerr := json.MarshalIndent(res, "", "  ")
		if jerr != nil {
			return fmt.Errorf("error encoding result: %w", jerr)
		}
		fmt.Println(string(data))
	} else {
		printResult(path, res)
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New("download incomplete")
	}
	return nil
}

// resolveOutputPath picks the output file: the given path, else the name
// reported by the source, else the last element of the first locator. An
// existing file is never overwritten.
func resolveOutputPath(ctx context.Context, given string, sources []source.Source) (string, error) {
	path := given
	if path == "" {
		name := ""
		if info, err := sources[0].Probe(ctx); err == nil {
			name = info.FileName
		} else {
			log.Debug().Str("op", "cmd/output").Err(err).Msg("Probe for file name failed")
		}
		if name == "" {
			name = utils.FileNameFromLocator(sources[0].Locator())
		}
		path = name
	}
	if _, err := os.Stat(path); err == nil {
		renewed := utils.RenewOutputPath(path)
		log.Debug().Str("op", "cmd/output").Str("from", path).Str("to", renewed).Msg("Output exists, renaming")
		path = renewed
	}
	return path, nil
}

func printResult(path string, res *downloader.Result) {
	if res.Success {
		output.PrintSuccess(fmt.Sprintf("%s Saved %s (%s in %s, %s)",
			output.StyleSymbols["pass"], path,
			utils.FormatBytes(uint64(res.BytesCommitted)),
			res.Elapsed.Round(time.Millisecond),
			utils.FormatSpeed(res.BytesCommitted, res.Elapsed.Seconds())))
		return
	}
	output.PrintWarning(fmt.Sprintf("%s %s incomplete: %d of %d chunks (%s of %s)",
		output.StyleSymbols["warning"], path, res.Completed, res.Chunks,
		utils.FormatBytes(uint64(res.BytesCommitted)), utils.FormatBytes(uint64(res.TotalSize))))
	for _, e := range res.Errors {
		fmt.Printf("  %s %s\n", output.FError(fmt.Sprintf("chunk %d", e.ChunkIndex)), output.FDebug(e.Error))
	}
}
