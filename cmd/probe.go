package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/turbodl/internal/output"
	"github.com/tanq16/turbodl/internal/plan"
	"github.com/tanq16/turbodl/internal/source"
	"github.com/tanq16/turbodl/internal/utils"
)

type probeReport struct {
	Locator      string `json:"locator"`
	Size         int64  `json:"size"`
	AcceptRanges bool   `json:"acceptRanges"`
	ETag         string `json:"etag,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	ChunkSize    int64  `json:"chunkSize"`
	Chunks       int    `json:"chunks"`
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe URL [MIRROR...]",
		Short: "Show size, range support and the chunk plan without downloading",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sources, err := source.NewAll(cmd.Context(), args, sourceOptions())
			exitOnError(err)
			info, err := source.Resolve(cmd.Context(), sources, cfg.RangeCheck, log.Logger)
			exitOnError(err)
			p, err := plan.New(info.Size, cfg.ChunkSize)
			exitOnError(err)

			report := probeReport{
				Locator:      args[0],
				Size:         info.Size,
				AcceptRanges: info.SupportsRanges(),
				ETag:         info.ETag,
				FileName:     info.FileName,
				ChunkSize:    p.ChunkSize(),
				Chunks:       p.Count(),
			}
			if jsonOutput {
				data, err := json.MarshalIndent(report, "", "  ")
				exitOnError(err)
				fmt.Println(string(data))
				return
			}
			output.PrintHeader(report.Locator)
			fmt.Printf("  %s %s\n", output.FDebug("size:"), output.FDetail(fmt.Sprintf("%s (%d bytes)", utils.FormatBytes(uint64(info.Size)), info.Size)))
			fmt.Printf("  %s %s\n", output.FDebug("ranges:"), rangesLabel(report.AcceptRanges))
			if report.ETag != "" {
				fmt.Printf("  %s %s\n", output.FDebug("etag:"), output.FDetail(report.ETag))
			}
			if report.FileName != "" {
				fmt.Printf("  %s %s\n", output.FDebug("file name:"), output.FDetail(report.FileName))
			}
			fmt.Printf("  %s %s\n", output.FDebug("plan:"), output.FDetail(fmt.Sprintf("%d chunks of %s", report.Chunks, utils.FormatBytes(uint64(report.ChunkSize)))))
		},
	}
}

func rangesLabel(supported bool) string {
	if supported {
		return output.FSuccess(output.StyleSymbols["pass"] + " bytes")
	}
	return output.FError(output.StyleSymbols["fail"] + " not advertised")
}
