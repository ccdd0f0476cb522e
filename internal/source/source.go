// Package source abstracts the remote resource: a size probe and ranged
// reads, over HTTP(S), S3 and local files.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/tanq16/turbodl/internal/utils"
)

var (
	ErrInvalidLocator = errors.New("invalid locator")
	ErrDoesNotExist   = errors.New("resource does not exist")
	ErrRangeMismatch  = errors.New("response does not match requested range")
)

// SizeResolutionError means no usable total size could be obtained. It is
// fatal: nothing is planned or fetched after it.
type SizeResolutionError struct {
	Locator string
	Reason  string
	Err     error
}

func (e *SizeResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot resolve size of %s: %s: %v", e.Locator, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot resolve size of %s: %s", e.Locator, e.Reason)
}

func (e *SizeResolutionError) Unwrap() error {
	return e.Err
}

// Info is what a metadata probe learned about the resource.
type Info struct {
	Size         int64
	AcceptRanges string
	ETag         string
	FileName     string
}

// SupportsRanges reports an affirmative "bytes" range indicator.
func (i Info) SupportsRanges() bool {
	return strings.EqualFold(strings.TrimSpace(i.AcceptRanges), "bytes")
}

// Part is the response to one ranged read. Body must be closed by the caller.
type Part struct {
	Body    io.ReadCloser
	Status  int
	Partial bool // the source confirmed it honored the range
}

// Source implementations log through zerolog.Ctx(ctx), so the caller's
// logger decides what they emit.
type Source interface {
	Locator() string
	Probe(ctx context.Context) (Info, error)
	// Fetch requests bytes [start, end], end inclusive. A partial response
	// that covers any other range fails with ErrRangeMismatch.
	Fetch(ctx context.Context, start, end int64) (*Part, error)
}

// ParseContentRange parses "bytes start-end/total". total is -1 when the
// server sends "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	value, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	rng, size, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q: end before start", header)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}
	return start, end, total, nil
}

// checkContentRange confirms a partial response covers exactly [start, end].
func checkContentRange(header string, start, end int64) error {
	if header == "" {
		return fmt.Errorf("%w: no Content-Range for bytes %d-%d", ErrRangeMismatch, start, end)
	}
	gotStart, gotEnd, _, err := ParseContentRange(header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRangeMismatch, err)
	}
	if gotStart != start || gotEnd != end {
		return fmt.Errorf("%w: requested bytes %d-%d, got %d-%d", ErrRangeMismatch, start, end, gotStart, gotEnd)
	}
	return nil
}

type Options struct {
	HTTPClient *utils.HTTPClient
	S3Profile  string
}

// New builds a source for locator based on its scheme. Plain paths are
// treated as local files.
func New(ctx context.Context, locator string, opts Options) (Source, error) {
	parsed, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		client := opts.HTTPClient
		if client == nil {
			client = utils.NewHTTPClient(utils.HTTPClientConfig{})
		}
		return NewHTTP(locator, client), nil
	case "s3", "s3a":
		return NewS3(ctx, locator, opts.S3Profile)
	case "file", "":
		return NewFile(locator)
	default:
		return nil, fmt.Errorf("%w: unknown scheme: %s", ErrInvalidLocator, parsed.Scheme)
	}
}

// NewAll builds one source per mirror locator.
func NewAll(ctx context.Context, locators []string, opts Options) ([]Source, error) {
	sources := make([]Source, 0, len(locators))
	for _, locator := range locators {
		src, err := New(ctx, locator, opts)
		if err != nil {
			return nil, fmt.Errorf("mirror %s: %w", locator, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
