package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/turbodl/internal/utils"
)

func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Content-Disposition", `attachment; filename="report 2024.bin"`)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readPart(t *testing.T, part *Part) []byte {
	t.Helper()
	defer part.Body.Close()
	data, err := io.ReadAll(part.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return data
}

func TestHTTPSourceProbe(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 10))
	srv := rangeServer(t, content)
	src := NewHTTP(srv.URL+"/files/report", utils.NewHTTPClient(utils.HTTPClientConfig{}))

	info, err := src.Probe(t.Context())
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	want := Info{Size: 100, AcceptRanges: "bytes", ETag: "abc123", FileName: "report 2024.bin"}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("Probe() mismatch (-want +got):\n%s", diff)
	}
	if !info.SupportsRanges() {
		t.Error("SupportsRanges() = false, want true")
	}
}

func TestHTTPSourceProbeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name:    "missing content length",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			check: func(err error) bool {
				var sizeErr *SizeResolutionError
				return errors.As(err, &sizeErr)
			},
		},
		{
			name: "zero content length",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "0")
			},
			check: func(err error) bool {
				var sizeErr *SizeResolutionError
				return errors.As(err, &sizeErr)
			},
		},
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			check:   func(err error) bool { return errors.Is(err, ErrDoesNotExist) },
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			check:   func(err error) bool { return err != nil && strings.Contains(err.Error(), "502") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			src := NewHTTP(srv.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
			_, err := src.Probe(t.Context())
			if !tt.check(err) {
				t.Errorf("Probe() error = %v", err)
			}
		})
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	content := []byte(strings.Repeat("abcdefghij", 10))

	t.Run("partial content", func(t *testing.T) {
		srv := rangeServer(t, content)
		src := NewHTTP(srv.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
		part, err := src.Fetch(t.Context(), 10, 24)
		if err != nil {
			t.Fatalf("Fetch() error: %v", err)
		}
		if !part.Partial || part.Status != http.StatusPartialContent {
			t.Errorf("Partial = %v, Status = %d, want true, 206", part.Partial, part.Status)
		}
		if got := readPart(t, part); !bytes.Equal(got, content[10:25]) {
			t.Errorf("body = %q, want %q", got, content[10:25])
		}
	})

	t.Run("range ignored", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(content)
		}))
		defer srv.Close()
		src := NewHTTP(srv.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
		part, err := src.Fetch(t.Context(), 10, 24)
		if err != nil {
			t.Fatalf("Fetch() error: %v", err)
		}
		readPart(t, part)
		if part.Partial || part.Status != http.StatusOK {
			t.Errorf("Partial = %v, Status = %d, want false, 200", part.Partial, part.Status)
		}
	})

	t.Run("bearer token and headers", func(t *testing.T) {
		var gotAuth, gotRange, gotCustom string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotRange = r.Header.Get("Range")
			gotCustom = r.Header.Get("X-Custom")
			w.Header().Set("Content-Range", "bytes 0-99/100")
			w.WriteHeader(http.StatusPartialContent)
		}))
		defer srv.Close()
		client := utils.NewHTTPClient(utils.HTTPClientConfig{
			BearerToken: "secret",
			Headers:     map[string]string{"X-Custom": "yes"},
		})
		part, err := NewHTTP(srv.URL, client).Fetch(t.Context(), 0, 99)
		if err != nil {
			t.Fatalf("Fetch() error: %v", err)
		}
		readPart(t, part)
		if gotAuth != "Bearer secret" {
			t.Errorf("Authorization = %q", gotAuth)
		}
		if gotRange != "bytes=0-99" {
			t.Errorf("Range = %q", gotRange)
		}
		if gotCustom != "yes" {
			t.Errorf("X-Custom = %q", gotCustom)
		}
	})
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	content := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	for _, locator := range []string{path, "file://" + filepath.ToSlash(path)} {
		t.Run(locator, func(t *testing.T) {
			src, err := NewFile(locator)
			if err != nil {
				t.Fatalf("NewFile() error: %v", err)
			}
			info, err := src.Probe(t.Context())
			if err != nil {
				t.Fatalf("Probe() error: %v", err)
			}
			if info.Size != int64(len(content)) || !info.SupportsRanges() || info.FileName != "payload.bin" {
				t.Errorf("Probe() = %+v", info)
			}
			part, err := src.Fetch(t.Context(), 4, 8)
			if err != nil {
				t.Fatalf("Fetch() error: %v", err)
			}
			if got := readPart(t, part); string(got) != "quick" {
				t.Errorf("Fetch(4, 8) = %q, want %q", got, "quick")
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		src, err := NewFile(filepath.Join(dir, "nope"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := src.Probe(t.Context()); !errors.Is(err, ErrDoesNotExist) {
			t.Errorf("Probe() error = %v, want ErrDoesNotExist", err)
		}
	})
}

type fakeS3 struct {
	content []byte
	missing bool
	noSize  bool
	shift   int // moves the reported Content-Range off the requested one
	ranges  []string
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.missing {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{ETag: aws.String(`"etag-1"`)}
	if !f.noSize {
		out.ContentLength = aws.Int64(int64(len(f.content)))
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.missing {
		return nil, &types.NoSuchKey{}
	}
	rng := aws.ToString(in.Range)
	f.ranges = append(f.ranges, rng)
	bounds := strings.Split(strings.TrimPrefix(rng, "bytes="), "-")
	start, _ := strconv.Atoi(bounds[0])
	end, _ := strconv.Atoi(bounds[1])
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(bytes.NewReader(f.content[start : end+1])),
		ContentRange: aws.String(fmt.Sprintf("bytes %d-%d/%d", start+f.shift, end+f.shift, len(f.content))),
	}, nil
}

func TestS3Source(t *testing.T) {
	fake := &fakeS3{content: []byte("0123456789abcdef")}
	src, err := NewS3WithClient("s3://bucket/dir/object.tar", fake)
	if err != nil {
		t.Fatalf("NewS3WithClient() error: %v", err)
	}
	info, err := src.Probe(t.Context())
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	want := Info{Size: 16, AcceptRanges: "bytes", ETag: "etag-1", FileName: "object.tar"}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("Probe() mismatch (-want +got):\n%s", diff)
	}

	part, err := src.Fetch(t.Context(), 10, 15)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if got := readPart(t, part); string(got) != "abcdef" || !part.Partial {
		t.Errorf("Fetch() = %q partial=%v", got, part.Partial)
	}
	if diff := cmp.Diff([]string{"bytes=10-15"}, fake.ranges); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}

	t.Run("not found", func(t *testing.T) {
		src, _ := NewS3WithClient("s3://bucket/key", &fakeS3{missing: true})
		if _, err := src.Probe(t.Context()); !errors.Is(err, ErrDoesNotExist) {
			t.Errorf("Probe() error = %v", err)
		}
		if _, err := src.Fetch(t.Context(), 0, 1); !errors.Is(err, ErrDoesNotExist) {
			t.Errorf("Fetch() error = %v", err)
		}
	})

	t.Run("no size", func(t *testing.T) {
		src, _ := NewS3WithClient("s3://bucket/key", &fakeS3{noSize: true})
		var sizeErr *SizeResolutionError
		if _, err := src.Probe(t.Context()); !errors.As(err, &sizeErr) {
			t.Errorf("Probe() error = %v, want SizeResolutionError", err)
		}
	})
}

func TestNewDispatch(t *testing.T) {
	tests := []struct {
		locator string
		want    string
		wantErr error
	}{
		{locator: "https://example.com/a.bin", want: "*source.HTTPSource"},
		{locator: "http://example.com/a.bin", want: "*source.HTTPSource"},
		{locator: "s3://bucket/key", want: "*source.S3Source"},
		{locator: "/tmp/a.bin", want: "*source.FileSource"},
		{locator: "file:///tmp/a.bin", want: "*source.FileSource"},
		{locator: "ftp://example.com/a.bin", wantErr: ErrInvalidLocator},
		{locator: "s3://bucket", wantErr: ErrInvalidLocator},
	}
	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			src, err := New(t.Context(), tt.locator, Options{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if got := typeName(src); got != tt.want {
				t.Errorf("New() type = %s, want %s", got, tt.want)
			}
			if src.Locator() != tt.locator {
				t.Errorf("Locator() = %q", src.Locator())
			}
		})
	}
}

func typeName(src Source) string {
	switch src.(type) {
	case *HTTPSource:
		return "*source.HTTPSource"
	case *S3Source:
		return "*source.S3Source"
	case *FileSource:
		return "*source.FileSource"
	}
	return "unknown"
}

type stubSource struct {
	locator string
	info    Info
	err     error
	probes  int
}

func (s *stubSource) Locator() string { return s.locator }

func (s *stubSource) Probe(context.Context) (Info, error) {
	s.probes++
	return s.info, s.err
}

func (s *stubSource) Fetch(context.Context, int64, int64) (*Part, error) {
	return nil, errors.New("not implemented")
}

func TestResolve(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("first usable mirror wins", func(t *testing.T) {
		broken := &stubSource{locator: "a", err: errors.New("connection refused")}
		good := &stubSource{locator: "b", info: Info{Size: 42, AcceptRanges: "bytes"}}
		unused := &stubSource{locator: "c", info: Info{Size: 7}}
		info, err := Resolve(t.Context(), []Source{broken, good, unused}, true, logger)
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if info.Size != 42 {
			t.Errorf("Size = %d, want 42", info.Size)
		}
		if unused.probes != 0 {
			t.Errorf("third mirror probed %d times", unused.probes)
		}
	})

	t.Run("no range advertisement is not fatal", func(t *testing.T) {
		src := &stubSource{locator: "a", info: Info{Size: 10}}
		if _, err := Resolve(t.Context(), []Source{src}, true, logger); err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
	})

	tests := []struct {
		name    string
		sources []Source
	}{
		{name: "no sources"},
		{name: "zero size", sources: []Source{&stubSource{locator: "a", info: Info{Size: 0}}}},
		{name: "negative size", sources: []Source{&stubSource{locator: "a", info: Info{Size: -1}}}},
		{name: "probe error", sources: []Source{&stubSource{locator: "a", err: errors.New("boom")}}},
		{name: "all mirrors fail", sources: []Source{
			&stubSource{locator: "a", err: errors.New("boom")},
			&stubSource{locator: "b", err: &SizeResolutionError{Locator: "b", Reason: "no length"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(t.Context(), tt.sources, true, logger)
			var sizeErr *SizeResolutionError
			if !errors.As(err, &sizeErr) {
				t.Fatalf("Resolve() error = %v, want SizeResolutionError", err)
			}
		})
	}
}

func TestSelectors(t *testing.T) {
	a, b, c := &stubSource{locator: "a"}, &stubSource{locator: "b"}, &stubSource{locator: "c"}
	sources := []Source{a, b, c}

	pick := func(s Selector, calls [][3]int) []string {
		var got []string
		for _, call := range calls {
			got = append(got, s.Pick(call[0], call[1], call[2]).Locator())
		}
		return got
	}

	tests := []struct {
		strategy string
		calls    [][3]int // worker, chunk, attempt
		want     []string
	}{
		{
			strategy: StrategyRoundRobin,
			calls:    [][3]int{{0, 0, 1}, {1, 1, 1}, {0, 2, 1}, {2, 3, 1}},
			want:     []string{"a", "b", "c", "a"},
		},
		{
			strategy: StrategyAffinity,
			calls:    [][3]int{{0, 0, 1}, {1, 1, 1}, {4, 2, 1}, {1, 5, 2}},
			want:     []string{"a", "b", "b", "c"},
		},
		{
			strategy: StrategyFailover,
			calls:    [][3]int{{0, 0, 1}, {3, 9, 1}, {3, 9, 2}, {3, 9, 3}, {3, 9, 4}},
			want:     []string{"a", "a", "b", "c", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			sel, err := SelectorFor(tt.strategy, sources)
			if err != nil {
				t.Fatalf("SelectorFor() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, pick(sel, tt.calls)); diff != "" {
				t.Errorf("picks mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := SelectorFor("random", sources); err == nil {
		t.Error("SelectorFor(random) succeeded")
	}
	if _, err := SelectorFor(StrategyRoundRobin, nil); err == nil {
		t.Error("SelectorFor with no sources succeeded")
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header            string
		start, end, total int64
		wantErr           bool
	}{
		{header: "bytes 0-99/1000", start: 0, end: 99, total: 1000},
		{header: "bytes 100-199/*", start: 100, end: 199, total: -1},
		{header: "  bytes 5-5/6", start: 5, end: 5, total: 6},
		{header: "bytes=0-99/1000", wantErr: true},
		{header: "bytes 0-99", wantErr: true},
		{header: "bytes 99/100", wantErr: true},
		{header: "bytes a-99/100", wantErr: true},
		{header: "bytes 0-b/100", wantErr: true},
		{header: "bytes 50-10/100", wantErr: true},
		{header: "bytes 0-9/x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseContentRange() = %d, %d, %d, want error", start, end, total)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseContentRange() error: %v", err)
			}
			if start != tt.start || end != tt.end || total != tt.total {
				t.Errorf("ParseContentRange() = %d, %d, %d, want %d, %d, %d", start, end, total, tt.start, tt.end, tt.total)
			}
		})
	}
}

func TestHTTPSourceFetchChecksContentRange(t *testing.T) {
	content := []byte(strings.Repeat("abcdefghij", 10))
	tests := []struct {
		name         string
		contentRange string
	}{
		{name: "wrong offset, same length", contentRange: "bytes 0-14/100"},
		{name: "wrong end", contentRange: "bytes 10-30/100"},
		{name: "missing header", contentRange: ""},
		{name: "garbled header", contentRange: "bytes ten-24/100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentRange != "" {
					w.Header().Set("Content-Range", tt.contentRange)
				}
				w.WriteHeader(http.StatusPartialContent)
				w.Write(content[:15])
			}))
			defer srv.Close()
			src := NewHTTP(srv.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
			part, err := src.Fetch(t.Context(), 10, 24)
			if !errors.Is(err, ErrRangeMismatch) {
				t.Errorf("Fetch() = %v, %v, want ErrRangeMismatch", part, err)
			}
		})
	}
}

func TestS3SourceFetchChecksContentRange(t *testing.T) {
	src, err := NewS3WithClient("s3://bucket/key", &fakeS3{content: []byte("0123456789abcdef"), shift: -2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Fetch(t.Context(), 4, 9); !errors.Is(err, ErrRangeMismatch) {
		t.Errorf("Fetch() error = %v, want ErrRangeMismatch", err)
	}
}

func TestSourcesLogThroughContext(t *testing.T) {
	var global bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&global)
	t.Cleanup(func() { log.Logger = prev })

	content := []byte(strings.Repeat("0123456789", 10))
	srv := rangeServer(t, content)
	src := NewHTTP(srv.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))

	var scoped bytes.Buffer
	ctx := zerolog.New(&scoped).With().Str("job", "j-1").Logger().WithContext(t.Context())
	if _, err := src.Probe(ctx); err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	part, err := src.Fetch(ctx, 0, 9)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	readPart(t, part)
	for _, msg := range []string{"HEAD probe", "Range request", `"job":"j-1"`} {
		if !strings.Contains(scoped.String(), msg) {
			t.Errorf("context logger output missing %q:\n%s", msg, scoped.String())
		}
	}

	// without a logger in the context nothing is written anywhere
	part, err = src.Fetch(t.Context(), 0, 9)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	readPart(t, part)
	if global.Len() != 0 {
		t.Errorf("global logger received output: %s", global.String())
	}
}
