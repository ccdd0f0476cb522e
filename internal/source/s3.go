package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

type S3Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source reads one object with ranged GetObject calls. The client is
// resolved against the bucket's region on first use.
type S3Source struct {
	locator string
	bucket  string
	key     string
	profile string

	mu     sync.Mutex
	client S3Client
}

func NewS3(_ context.Context, locator, profile string) (*S3Source, error) {
	bucket, key, err := parseS3Locator(locator)
	if err != nil {
		return nil, err
	}
	return &S3Source{locator: locator, bucket: bucket, key: key, profile: profile}, nil
}

// NewS3WithClient skips region discovery and uses client as is.
func NewS3WithClient(locator string, client S3Client) (*S3Source, error) {
	bucket, key, err := parseS3Locator(locator)
	if err != nil {
		return nil, err
	}
	return &S3Source{locator: locator, bucket: bucket, key: key, client: client}, nil
}

func parseS3Locator(locator string) (string, string, error) {
	parsed, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Host == "" || key == "" {
		return "", "", fmt.Errorf("%w: expected s3://bucket/key, got %s", ErrInvalidLocator, locator)
	}
	return parsed.Host, key, nil
}

func (s *S3Source) Locator() string {
	return s.locator
}

func (s *S3Source) Probe(ctx context.Context) (Info, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return Info{}, err
	}
	out, err := svc.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	zerolog.Ctx(ctx).Debug().Str("op", "source/s3").Str("bucket", s.bucket).Str("key", s.key).Err(err).Msg("HeadObject")
	if s3IsNotFoundErr(err) {
		return Info{}, fmt.Errorf("%w: %s", ErrDoesNotExist, s.locator)
	} else if err != nil {
		return Info{}, err
	}
	if out.ContentLength == nil {
		return Info{}, &SizeResolutionError{Locator: s.locator, Reason: "object has no content length"}
	}
	info := Info{
		Size:         aws.ToInt64(out.ContentLength),
		AcceptRanges: aws.ToString(out.AcceptRanges),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		FileName:     s.key[strings.LastIndex(s.key, "/")+1:],
	}
	// S3 always honors ranges even when the header is omitted
	if info.AcceptRanges == "" {
		info.AcceptRanges = "bytes"
	}
	return info, nil
}

func (s *S3Source) Fetch(ctx context.Context, start, end int64) (*Part, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}
	rng := fmt.Sprintf("bytes=%d-%d", start, end)
	out, err := svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rng),
	})
	if s3IsNotFoundErr(err) {
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, s.locator)
	} else if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("op", "source/s3").Str("range", rng).Str("contentRange", aws.ToString(out.ContentRange)).Msg("GetObject")
	part := &Part{Body: out.Body, Status: http.StatusOK}
	if out.ContentRange != nil {
		if err := checkContentRange(aws.ToString(out.ContentRange), start, end); err != nil {
			out.Body.Close()
			return nil, err
		}
		part.Status = http.StatusPartialContent
		part.Partial = true
	}
	return part, nil
}

func (s *S3Source) service(ctx context.Context) (S3Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	svc, err := clients.forBucket(ctx, s.profile, s.bucket)
	if err != nil {
		return nil, err
	}
	s.client = svc
	return svc, nil
}

type clientCache struct {
	lock  sync.Mutex
	cache map[string]S3Client
}

var clients = &clientCache{cache: make(map[string]S3Client)}

func (c *clientCache) forBucket(ctx context.Context, profile, bucket string) (S3Client, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	cacheKey := profile + "/" + bucket
	if svc, ok := c.cache[cacheKey]; ok {
		return svc, nil
	}
	const defaultRegion = "us-east-1"
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(defaultRegion),
		config.WithRetryMode("adaptive"),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	svc := s3.NewFromConfig(cfg)
	region, err := manager.GetBucketRegion(ctx, svc, bucket)
	if err != nil {
		if s3IsNotFoundErr(err) {
			return nil, fmt.Errorf("%w: bucket %s", ErrDoesNotExist, bucket)
		}
		return nil, err
	}
	if region != defaultRegion {
		cfg.Region = region
		svc = s3.NewFromConfig(cfg)
	}
	zerolog.Ctx(ctx).Debug().Str("op", "source/s3").Str("bucket", bucket).Str("region", region).Msg("Resolved bucket region")
	c.cache[cacheKey] = svc
	return svc, nil
}

func s3IsNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
