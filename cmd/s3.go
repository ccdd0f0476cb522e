package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

func newS3Cmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "s3 [BUCKET/KEY or s3://BUCKET/KEY]",
		Short: "Download an object from AWS S3",
		Long: `Download an object from AWS S3 with concurrent ranged GetObject calls.

Examples:
  turbodl s3 mybucket/path/to/file.zip
  turbodl s3 s3://mybucket/path/to/file.zip -o file.zip
  turbodl s3 mybucket/file.zip --profile myprofile`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			locator := args[0]
			if !strings.HasPrefix(locator, "s3://") {
				locator = "s3://" + locator
			}
			if cmd.Flags().Changed("profile") {
				cfg.S3Profile = profile
			}
			exitOnError(runDownload(cmd.Context(), []string{locator}))
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "AWS profile to use")
	return cmd
}
