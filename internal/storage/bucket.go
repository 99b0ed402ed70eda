// Package storage wraps the artifact bucket holding intermediate and final
// clip files. The pipeline only ever probes and links objects; uploads are
// done by the batch and render backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
}

type BucketService interface {
	// ObjectExists probes for the key without downloading it.
	ObjectExists(ctx context.Context, key string) (bool, error)
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
	GetPublicURL(key string) string
	Close() error
}

type bucketService struct {
	log       *logger.Logger
	client    *gcs.Client
	bucket    string
	cdnDomain string
}

// NewBucketService returns nil without error when ARTIFACT_BUCKET is unset:
// artifact verification is optional and the completion path treats a nil
// service as "trust the webhook".
func NewBucketService(log *logger.Logger) (BucketService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	serviceLog := log.With("service", "BucketService")

	bucket := strings.TrimSpace(os.Getenv("ARTIFACT_BUCKET"))
	if bucket == "" {
		serviceLog.Warn("ARTIFACT_BUCKET not set, artifact verification disabled")
		return nil, nil
	}

	ctx := context.Background()
	var opts []option.ClientOption
	if creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	serviceLog.Info("Artifact bucket initialized", "bucket", bucket)
	return &bucketService{
		log:       serviceLog,
		client:    client,
		bucket:    bucket,
		cdnDomain: strings.TrimSpace(os.Getenv("ARTIFACT_CDN_DOMAIN")),
	}, nil
}

func (s *bucketService) ObjectExists(ctx context.Context, key string) (bool, error) {
	attrs, err := s.GetObjectAttrs(ctx, key)
	if err != nil {
		return false, err
	}
	return attrs != nil, nil
}

func (s *bucketService) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	if key == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat object %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}, nil
}

func (s *bucketService) GetPublicURL(key string) string {
	if key == "" {
		return ""
	}
	if s.cdnDomain != "" {
		return "https://" + s.cdnDomain + "/" + key
	}
	return "https://storage.googleapis.com/" + s.bucket + "/" + key
}

func (s *bucketService) Close() error {
	return s.client.Close()
}
