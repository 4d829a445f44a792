package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorConfig configures the optional S3/R2-compatible remote mirror. This
// is a write-behind durability backstop for a single worker's own store,
// not cross-host replication. cmd/rchworker wires it into the source store
// only; no code path in this module uploads artifact bundles to it or
// reads anything back from it.
type MirrorConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Mirror implements a best-effort remote copy of committed bundles
// (in this module, source bundles only), grounded on the teacher's
// R2-backed log store client setup.
type S3Mirror struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

// NewS3Mirror builds an S3Mirror from cfg.
func NewS3Mirror(ctx context.Context, cfg MirrorConfig, log *slog.Logger) (*S3Mirror, error) {
	if log == nil {
		log = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Mirror{client: client, bucket: cfg.Bucket, log: log}, nil
}

// Put uploads the bundle under key to the mirror bucket; the source store
// passes the bundle's bare source sha256 as key. Failures are logged here
// and swallowed by the source store: the mirror never fails a local commit.
func (m *S3Mirror) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		m.log.Warn("artifact mirror upload failed", "key", key, "error", err)
		return fmt.Errorf("artifact: mirror put %s: %w", key, err)
	}
	return nil
}

// Get downloads key from the mirror. No code path in this module calls it;
// the local store is never read through the mirror.
func (m *S3Mirror) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: mirror get %s: %w", key, err)
	}
	return out.Body, nil
}
