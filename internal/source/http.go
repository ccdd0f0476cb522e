package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tanq16/turbodl/internal/utils"
)

type HTTPSource struct {
	url    string
	client *utils.HTTPClient
}

func NewHTTP(url string, client *utils.HTTPClient) *HTTPSource {
	return &HTTPSource{url: url, client: client}
}

func (s *HTTPSource) Locator() string {
	return s.url
}

func (s *HTTPSource) Probe(ctx context.Context) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return Info{}, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("error checking URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Info{}, fmt.Errorf("%w: %s", ErrDoesNotExist, s.url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Info{}, fmt.Errorf("server returned error: %d", resp.StatusCode)
	}

	info := Info{
		AcceptRanges: resp.Header.Get("Accept-Ranges"),
		ETag:         strings.Trim(strings.TrimPrefix(resp.Header.Get("ETag"), "W/"), `"`),
		FileName:     utils.FileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return Info{}, &SizeResolutionError{Locator: s.url, Reason: "server didn't provide Content-Length header"}
	}
	size, err := strconv.ParseInt(strings.TrimSpace(contentLength), 10, 64)
	if err != nil {
		return Info{}, &SizeResolutionError{Locator: s.url, Reason: fmt.Sprintf("non-numeric Content-Length %q", contentLength), Err: err}
	}
	if size <= 0 {
		return Info{}, &SizeResolutionError{Locator: s.url, Reason: fmt.Sprintf("invalid file size %d reported by server", size)}
	}
	info.Size = size
	zerolog.Ctx(ctx).Debug().Str("op", "source/http").Str("url", s.url).Int64("size", size).Str("acceptRanges", info.AcceptRanges).Msg("HEAD probe")
	return info, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, start, end int64) (*Part, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end)
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("Connection", "keep-alive")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("op", "source/http").Str("range", rangeHeader).Int("status", resp.StatusCode).Msg("Range request")
	if resp.StatusCode == http.StatusPartialContent {
		if err := checkContentRange(resp.Header.Get("Content-Range"), start, end); err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return &Part{
		Body:    resp.Body,
		Status:  resp.StatusCode,
		Partial: resp.StatusCode == http.StatusPartialContent,
	}, nil
}
