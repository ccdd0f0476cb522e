// Package config loads turbodl settings from defaults, a YAML file and the
// environment. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/tanq16/turbodl/internal/downloader"
	"github.com/tanq16/turbodl/internal/source"
	"github.com/tanq16/turbodl/internal/utils"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "~/.turbodl.yaml"

type Config struct {
	Workers        int           `validate:"gte=1,lte=256"`
	ChunkSize      int64         `validate:"gte=1"`
	BufferSize     int           `validate:"gte=1"`
	MaxRetries     int           `validate:"gte=1"`
	RetryBase      time.Duration `validate:"gte=0"`
	RetryJitter    time.Duration `validate:"gte=0"`
	AttemptTimeout time.Duration `validate:"gte=0"`
	RangeCheck     bool
	MirrorStrategy string `validate:"oneof=round-robin affinity failover"`
	S3Profile      string
	HTTP           HTTPConfig
}

type HTTPConfig struct {
	Timeout       time.Duration `validate:"gte=0"`
	KeepAlive     time.Duration `validate:"gte=0"`
	UserAgent     string
	Proxy         string `validate:"omitempty,url"`
	ProxyUsername string
	ProxyPassword string
	Headers       []string
	Token         string
	RPS           float64 `validate:"gte=0"`
}

func Default() Config {
	return Config{
		Workers:        downloader.DefaultWorkers,
		ChunkSize:      utils.DefaultChunkSize,
		BufferSize:     utils.DefaultBufferSize,
		MaxRetries:     downloader.DefaultMaxRetries,
		RetryBase:      downloader.DefaultRetryBase,
		RetryJitter:    downloader.DefaultRetryJitter,
		RangeCheck:     true,
		MirrorStrategy: source.StrategyRoundRobin,
		HTTP: HTTPConfig{
			Timeout:   3 * time.Minute,
			KeepAlive: 90 * time.Second,
			UserAgent: utils.ToolUserAgent,
		},
	}
}

// fileConfig mirrors the YAML layout. Pointers tell unset keys apart from
// explicit zero values.
type fileConfig struct {
	Workers        *int    `yaml:"workers"`
	ChunkSize      *string `yaml:"chunk_size"`
	BufferSize     *string `yaml:"buffer_size"`
	MaxRetries     *int    `yaml:"max_retries"`
	RetryBase      *string `yaml:"retry_base"`
	RetryJitter    *string `yaml:"retry_jitter"`
	AttemptTimeout *string `yaml:"attempt_timeout"`
	RangeCheck     *bool   `yaml:"range_check"`
	MirrorStrategy *string `yaml:"mirror_strategy"`
	S3Profile      *string `yaml:"s3_profile"`
	HTTP           struct {
		Timeout       *string  `yaml:"timeout"`
		KeepAlive     *string  `yaml:"keep_alive"`
		UserAgent     *string  `yaml:"user_agent"`
		Proxy         *string  `yaml:"proxy"`
		ProxyUsername *string  `yaml:"proxy_username"`
		ProxyPassword *string  `yaml:"proxy_password"`
		Headers       []string `yaml:"headers"`
		Token         *string  `yaml:"token"`
		RPS           *float64 `yaml:"rps"`
	} `yaml:"http"`
}

// Load reads the YAML file at path over the defaults. An empty path means
// DefaultPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("expand config path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return cfg, nil
	} else if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.apply(fc); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", expanded, err)
	}
	return cfg, nil
}

func (c *Config) apply(fc fileConfig) error {
	setInt(&c.Workers, fc.Workers)
	setInt(&c.MaxRetries, fc.MaxRetries)
	setString(&c.MirrorStrategy, fc.MirrorStrategy)
	setString(&c.S3Profile, fc.S3Profile)
	if fc.RangeCheck != nil {
		c.RangeCheck = *fc.RangeCheck
	}
	if fc.ChunkSize != nil {
		size, err := utils.ParseBytes(*fc.ChunkSize)
		if err != nil {
			return fmt.Errorf("parse chunk_size: %w", err)
		}
		c.ChunkSize = size
	}
	if fc.BufferSize != nil {
		size, err := utils.ParseBytes(*fc.BufferSize)
		if err != nil {
			return fmt.Errorf("parse buffer_size: %w", err)
		}
		c.BufferSize = int(size)
	}
	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"retry_base", fc.RetryBase, &c.RetryBase},
		{"retry_jitter", fc.RetryJitter, &c.RetryJitter},
		{"attempt_timeout", fc.AttemptTimeout, &c.AttemptTimeout},
		{"http.timeout", fc.HTTP.Timeout, &c.HTTP.Timeout},
		{"http.keep_alive", fc.HTTP.KeepAlive, &c.HTTP.KeepAlive},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	setString(&c.HTTP.UserAgent, fc.HTTP.UserAgent)
	setString(&c.HTTP.Proxy, fc.HTTP.Proxy)
	setString(&c.HTTP.ProxyUsername, fc.HTTP.ProxyUsername)
	setString(&c.HTTP.ProxyPassword, fc.HTTP.ProxyPassword)
	setString(&c.HTTP.Token, fc.HTTP.Token)
	if fc.HTTP.RPS != nil {
		c.HTTP.RPS = *fc.HTTP.RPS
	}
	if len(fc.HTTP.Headers) > 0 {
		c.HTTP.Headers = fc.HTTP.Headers
	}
	return nil
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// LoadEnv reads a .env file from the working directory if present, then
// applies TURBODL_* variables.
func (c *Config) LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if v := os.Getenv("TURBODL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TURBODL_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("TURBODL_CHUNK_SIZE"); v != "" {
		size, err := utils.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse TURBODL_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("TURBODL_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TURBODL_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	for name, dst := range map[string]*time.Duration{
		"TURBODL_RETRY_BASE":      &c.RetryBase,
		"TURBODL_RETRY_JITTER":    &c.RetryJitter,
		"TURBODL_ATTEMPT_TIMEOUT": &c.AttemptTimeout,
		"TURBODL_TIMEOUT":         &c.HTTP.Timeout,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv("TURBODL_RANGE_CHECK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse TURBODL_RANGE_CHECK: %w", err)
		}
		c.RangeCheck = b
	}
	if v := os.Getenv("TURBODL_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse TURBODL_RPS: %w", err)
		}
		c.HTTP.RPS = rps
	}
	for name, dst := range map[string]*string{
		"TURBODL_MIRROR_STRATEGY": &c.MirrorStrategy,
		"TURBODL_S3_PROFILE":      &c.S3Profile,
		"TURBODL_USER_AGENT":      &c.HTTP.UserAgent,
		"TURBODL_PROXY":           &c.HTTP.Proxy,
		"TURBODL_PROXY_USERNAME":  &c.HTTP.ProxyUsername,
		"TURBODL_PROXY_PASSWORD":  &c.HTTP.ProxyPassword,
		"TURBODL_TOKEN":           &c.HTTP.Token,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	return nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DownloadOptions maps the config onto downloader options.
func (c Config) DownloadOptions() downloader.Options {
	return downloader.Options{
		Workers:        c.Workers,
		ChunkSize:      c.ChunkSize,
		BufferSize:     c.BufferSize,
		MaxRetries:     c.MaxRetries,
		RetryBase:      c.RetryBase,
		RetryJitter:    c.RetryJitter,
		AttemptTimeout: c.AttemptTimeout,
		SkipRangeCheck: !c.RangeCheck,
		MirrorStrategy: c.MirrorStrategy,
	}
}

// HTTPClientConfig maps the HTTP section onto the shared client settings.
// A user agent of "randomize" picks one from the built-in list.
func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	ua := c.HTTP.UserAgent
	if ua == "randomize" {
		ua = utils.GetRandomUserAgent()
	}
	return utils.HTTPClientConfig{
		Timeout:           c.HTTP.Timeout,
		KATimeout:         c.HTTP.KeepAlive,
		ProxyURL:          c.HTTP.Proxy,
		ProxyUsername:     c.HTTP.ProxyUsername,
		ProxyPassword:     c.HTTP.ProxyPassword,
		UserAgent:         ua,
		Headers:           utils.ParseHeaderArgs(c.HTTP.Headers),
		BearerToken:       c.HTTP.Token,
		RequestsPerSecond: c.HTTP.RPS,
		HighThreadMode:    c.Workers > 5,
	}
}
