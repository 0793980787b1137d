// Package files stores interaction attachments in object storage.
package files

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAttachmentSize caps a single uploaded file at 10 MB.
const MaxAttachmentSize = 10 << 20

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service wraps the object storage client. A zero endpoint leaves the
// service unconfigured and attachment uploads disabled.
type Service struct {
	client *minio.Client
	bucket string
}

func NewService(ctx context.Context, config Config) (*Service, error) {
	if config.Endpoint == "" {
		return &Service{}, nil
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: config.Bucket}, nil
}

// IsConfigured returns true if object storage is configured
func (s *Service) IsConfigured() bool {
	return s.client != nil
}

// Upload stores an attachment under the given object key.
func (s *Service) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("object storage not configured")
	}
	if size > MaxAttachmentSize {
		return fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentSize)
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload attachment: %w", err)
	}
	return nil
}

// PresignedURL returns a short lived download link for an attachment.
func (s *Service) PresignedURL(ctx context.Context, objectKey, fileName string) (string, error) {
	if !s.IsConfigured() {
		return "", fmt.Errorf("object storage not configured")
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	link, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, 15*time.Minute, params)
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return link.String(), nil
}
