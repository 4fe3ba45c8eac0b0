package blob

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements Store for MinIO/S3 compatible storage.
type MinioStore struct {
	client    *minio.Client
	urlExpiry time.Duration

	mu      sync.Mutex
	buckets map[string]bool
}

// NewMinioStore connects to MinIO and ensures the default bucket exists.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, urlExpiry time.Duration) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	s := &MinioStore{client: client, urlExpiry: urlExpiry, buckets: make(map[string]bool)}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	s.buckets[bucket] = true
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, bucket, objectPath string, r io.Reader, size int64, contentType string) (Object, error) {
	if err := validPath(objectPath); err != nil {
		return Object{}, err
	}
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return Object{}, err
	}
	info, err := s.client.PutObject(ctx, bucket, objectPath, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	return Object{Bucket: bucket, Path: objectPath, Size: info.Size, ContentType: contentType}, nil
}

// URL returns a pre-signed GET URL.
func (s *MinioStore) URL(ctx context.Context, bucket, objectPath string) (string, error) {
	if err := validPath(objectPath); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, bucket, objectPath, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStore) Delete(ctx context.Context, bucket, objectPath string) error {
	if err := s.client.RemoveObject(ctx, bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
