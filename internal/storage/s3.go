// Package storage persists uploaded profile pictures in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/linguachat/backend/internal/config"
)

// ErrUnavailable is returned when no bucket is configured.
var ErrUnavailable = errors.New("avatar storage unavailable")

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// AvatarStore uploads avatar images and returns their public URL.
type AvatarStore struct {
	uploader uploader
	bucket   string
	baseURL  string
}

// NewAvatarStore configures an uploader targeting the configured bucket.
func NewAvatarStore(ctx context.Context, cfg config.Avatars) (*AvatarStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("avatar storage: bucket is required: %w", ErrUnavailable)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	baseURL := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		if endpoint != "" {
			baseURL = strings.TrimSuffix(endpoint, "/") + "/" + cfg.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &AvatarStore{uploader: up, bucket: cfg.Bucket, baseURL: baseURL}, nil
}

// Save uploads the content under key and returns its public URL.
func (s *AvatarStore) Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if s == nil || s.uploader == nil {
		return "", ErrUnavailable
	}

	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("avatar storage: empty key")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
		ACL:    s3types.ObjectCannedACLPublicRead,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("avatar storage upload %s: %w", key, err)
	}

	return s.baseURL + "/" + key, nil
}
