package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// FileSource reads ranges of a local file. Every range read is partial.
type FileSource struct {
	locator string
	path    string
}

func NewFile(locator string) (*FileSource, error) {
	parsed, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	p := locator
	if parsed.Scheme != "" {
		p = path.Clean(path.Join(parsed.Host, parsed.Path))
	}
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidLocator)
	}
	return &FileSource{locator: locator, path: filepath.FromSlash(p)}, nil
}

func (s *FileSource) Locator() string {
	return s.locator
}

func (s *FileSource) Probe(_ context.Context) (Info, error) {
	fi, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return Info{}, fmt.Errorf("%w: %s", ErrDoesNotExist, s.path)
	} else if err != nil {
		return Info{}, err
	}
	if fi.IsDir() {
		return Info{}, &SizeResolutionError{Locator: s.locator, Reason: "is a directory"}
	}
	return Info{Size: fi.Size(), AcceptRanges: "bytes", FileName: fi.Name()}, nil
}

func (s *FileSource) Fetch(ctx context.Context, start, end int64) (*Part, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, s.path)
	} else if err != nil {
		return nil, err
	}
	return &Part{
		Body:    &sectionReadCloser{Reader: io.NewSectionReader(f, start, end-start+1), Closer: f},
		Status:  http.StatusPartialContent,
		Partial: true,
	}, nil
}

type sectionReadCloser struct {
	io.Reader
	io.Closer
}
