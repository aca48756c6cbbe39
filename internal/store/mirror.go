package store

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3MirrorConfig describes the bucket that receives backup copies.
type S3MirrorConfig struct {
	Bucket string
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint string
	// UsePathStyle is required by most S3-compatible servers.
	UsePathStyle bool
	// Prefix is prepended to the object key.
	Prefix string
}

// S3Mirror uploads backup files to an S3 bucket.
type S3Mirror struct {
	client *s3.Client
	cfg    S3MirrorConfig
}

// NewS3Mirror builds a mirror using the default AWS credential chain.
func NewS3Mirror(ctx context.Context, cfg S3MirrorConfig) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 mirror: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Mirror{client: client, cfg: cfg}, nil
}

// NewS3MirrorWithClient wraps a pre-configured client.
func NewS3MirrorWithClient(client *s3.Client, cfg S3MirrorConfig) *S3Mirror {
	return &S3Mirror{client: client, cfg: cfg}
}

// Key returns the object key a local backup file is stored under.
func (m *S3Mirror) Key(localPath string) string {
	return path.Join(m.cfg.Prefix, filepath.Base(localPath))
}

// Upload puts the backup file into the bucket.
func (m *S3Mirror) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(m.Key(localPath)),
		Body:        f,
		ContentType: aws.String("application/vnd.sqlite3"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", m.cfg.Bucket, m.Key(localPath), err)
	}
	return nil
}
