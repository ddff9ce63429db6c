package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/download"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/progress"
)

// S3Config holds settings for s3:// archive sources. With an empty
// Endpoint the default AWS endpoint is used; with empty keys the default
// credential chain is used.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3API is the subset of the S3 client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads archives from S3-compatible object storage.
type S3Fetcher struct {
	client S3API
}

// NewS3Fetcher creates a fetcher with a client built from cfg.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Fetcher{client: client}, nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client S3API) *S3Fetcher {
	return &S3Fetcher{client: client}
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}

	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	}), nil
}

func (f *S3Fetcher) Type() string { return "s3" }

// Fetch downloads s3://bucket/key into dst.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL, dst string, sink progress.Sink) (n int64, err error) {
	defer func() { recordFetch("s3", n, err) }()

	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return 0, &download.NetworkError{URL: rawURL, Err: err}
	}

	sink.Percent(0)
	sink.Log("Downloading: " + rawURL)
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var re interface{ HTTPStatusCode() int }
		if errors.As(err, &re) && re.HTTPStatusCode() >= 300 {
			return 0, &download.HTTPStatusError{URL: rawURL, StatusCode: re.HTTPStatusCode()}
		}
		return 0, &download.NetworkError{URL: rawURL, Err: err}
	}
	defer out.Body.Close()

	n, err = copyToFile(ctx, out.Body, aws.ToInt64(out.ContentLength), dst, sink)
	if re, ok := err.(*readError); ok {
		return n, &download.NetworkError{URL: rawURL, Err: re.Err}
	}
	if err != nil {
		return n, err
	}
	logging.WithContext(ctx).Info("s3 download complete",
		zap.String("bucket", bucket), zap.String("key", key), zap.Int64("bytes", n))
	return n, nil
}

// ParseS3URL splits s3://bucket/key/path into bucket and key.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("not an s3 URL: %s", rawURL)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URL needs a bucket and a key: %s", rawURL)
	}
	return bucket, key, nil
}
