package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/turbodl/internal/config"
	"github.com/tanq16/turbodl/internal/output"
	"github.com/tanq16/turbodl/internal/utils"
)

var (
	cfgPath       string
	debug         bool
	logToFile     bool
	outputPath    string
	jsonOutput    bool
	workers       int
	chunkSize     string
	retries       int
	retryBase     time.Duration
	retryJitter   time.Duration
	attemptTO     time.Duration
	strategy      string
	noRangeCheck  bool
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	token         string
	rps           float64

	cfg config.Config
)

var TurboDLVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "turbodl [URL...]",
	Short: "turbodl downloads one file over many concurrent range requests",
	Long: `turbodl downloads one file over many concurrent range requests.
Several URLs may be given; they are treated as mirrors of the same file.

Examples:
  turbodl https://example.com/big.iso
  turbodl https://a.example.com/big.iso https://b.example.com/big.iso -o big.iso -w 16
  turbodl ./local/file.bin -o copy.bin -s 4MB`,
	Version:           TurboDLVersion,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			return
		}
		exitOnError(runDownload(cmd.Context(), args))
	},
}

var getCmd = &cobra.Command{
	Use:   "get URL [MIRROR...]",
	Short: "Download a file (same as the root command)",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(runDownload(cmd.Context(), args))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the turbodl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(TurboDLVersion)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	output.PrintError(fmt.Sprintf("%s %v", output.StyleSymbols["fail"], err))
	os.Exit(1)
}

// setup builds the effective config: defaults, config file, environment,
// then any flag the user set explicitly.
func setup(cmd *cobra.Command, args []string) error {
	utils.InitLogger(debug)
	if logToFile {
		f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		utils.SetLogOutput(f)
	}
	// sources log through the context logger
	cmd.SetContext(log.Logger.WithContext(cmd.Context()))

	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.LoadEnv(); err != nil {
		return err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Debug().Str("op", "cmd/setup").Int("workers", cfg.Workers).Int64("chunkSize", cfg.ChunkSize).Str("strategy", cfg.MirrorStrategy).Msg("Effective config")
	return nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		c.Workers = workers
	}
	if flags.Changed("chunk-size") {
		size, err := utils.ParseBytes(chunkSize)
		if err != nil {
			return fmt.Errorf("invalid --chunk-size: %w", err)
		}
		c.ChunkSize = size
	}
	if flags.Changed("retries") {
		c.MaxRetries = retries
	}
	if flags.Changed("retry-base") {
		c.RetryBase = retryBase
	}
	if flags.Changed("retry-jitter") {
		c.RetryJitter = retryJitter
	}
	if flags.Changed("attempt-timeout") {
		c.AttemptTimeout = attemptTO
	}
	if flags.Changed("mirror-strategy") {
		c.MirrorStrategy = strategy
	}
	if noRangeCheck {
		c.RangeCheck = false
	}
	if flags.Changed("timeout") {
		c.HTTP.Timeout = timeout
	}
	if flags.Changed("keep-alive-timeout") {
		c.HTTP.KeepAlive = kaTimeout
	}
	if flags.Changed("user-agent") {
		c.HTTP.UserAgent = userAgent
	}
	if flags.Changed("proxy") {
		c.HTTP.Proxy = proxyURL
	}
	if flags.Changed("proxy-username") {
		c.HTTP.ProxyUsername = proxyUsername
	}
	if flags.Changed("proxy-password") {
		c.HTTP.ProxyPassword = proxyPassword
	}
	if flags.Changed("header") {
		c.HTTP.Headers = append(c.HTTP.Headers, headers...)
	}
	if flags.Changed("token") {
		c.HTTP.Token = token
	}
	if flags.Changed("rps") {
		c.HTTP.RPS = rps
	}

	// Check if proxy URL contains auth
	parsedProxy, err := u.Parse(c.HTTP.Proxy)
	if c.HTTP.Proxy != "" && err == nil && parsedProxy.User != nil && c.HTTP.ProxyUsername == "" {
		c.HTTP.ProxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			c.HTTP.ProxyPassword = password
		}
		// Remove auth from URL to send in clientConfig
		parsedProxy.User = nil
		c.HTTP.Proxy = parsedProxy.String()
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "Config file (default "+config.DefaultPath+")")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&logToFile, "log-file", false, "Write logs to "+utils.LogFile+" instead of stderr")
	pf.StringVarP(&outputPath, "output", "o", "", "Output file path (turbodl infers file name if not provided)")
	pf.BoolVar(&jsonOutput, "json", false, "Print the download result as JSON")
	pf.IntVarP(&workers, "workers", "w", 4, "Number of concurrent range requests (above 5 enables high-thread-mode)")
	pf.StringVarP(&chunkSize, "chunk-size", "s", "8MB", "Chunk size (eg. 512KB, 8MB, 1GB)")
	pf.IntVarP(&retries, "retries", "r", 4, "Attempts per chunk before giving up")
	pf.DurationVar(&retryBase, "retry-base", 500*time.Millisecond, "Base retry backoff, doubled on each attempt")
	pf.DurationVar(&retryJitter, "retry-jitter", 200*time.Millisecond, "Random jitter added to each backoff")
	pf.DurationVar(&attemptTO, "attempt-timeout", 0, "Time limit per chunk attempt (0 for none)")
	pf.StringVar(&strategy, "mirror-strategy", "round-robin", "Mirror selection: round-robin, affinity or failover")
	pf.BoolVar(&noRangeCheck, "no-range-check", false, "Skip the Accept-Ranges advisory check")
	pf.DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	pf.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	pf.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	pf.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.StringVar(&token, "token", "", "Bearer token sent with every request")
	pf.Float64Var(&rps, "rps", 0, "Maximum requests per second (0 for no limit)")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(versionCmd)
}
