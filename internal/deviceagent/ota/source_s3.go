package ota

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/fwagent/pkg/options"
)

type s3Source struct {
	client *minio.Client
	bucket string
	key    string
}

var _ Source = (*s3Source)(nil)

// NewS3Client returns nil when no endpoint is configured.
func NewS3Client(opts *options.S3Options) (*minio.Client, error) {
	if !opts.Enabled() {
		return nil, nil
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// newS3Source maps s3://bucket/key onto the client.
func newS3Source(client *minio.Client, u *url.URL) *s3Source {
	return &s3Source{
		client: client,
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
	}
}

func (s *s3Source) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key, minio.StatObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("stat s3://%s/%s: %w", s.bucket, s.key, err)
	}

	opts := minio.GetObjectOptions{}
	if offset > 0 {
		if offset >= info.Size {
			return io.NopCloser(strings.NewReader("")), info.Size, nil
		}
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, 0, err
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return obj, info.Size, nil
}
