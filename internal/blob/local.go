package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on disk under baseDir/<bucket>/<path> and serves
// them under publicPrefix. Used when no object storage endpoint is configured.
type LocalStore struct {
	baseDir      string
	publicPrefix string
}

func NewLocalStore(baseDir, publicPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir, publicPrefix: strings.TrimRight(publicPrefix, "/")}, nil
}

func (s *LocalStore) filePath(bucket, objectPath string) (string, error) {
	if err := validPath(bucket); err != nil {
		return "", err
	}
	if err := validPath(objectPath); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, bucket, filepath.FromSlash(objectPath)), nil
}

func (s *LocalStore) Upload(ctx context.Context, bucket, objectPath string, r io.Reader, size int64, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	target, err := s.filePath(bucket, objectPath)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("create object dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("open object: %w", err)
	}
	written, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(target)
		return Object{}, fmt.Errorf("write object: %w", copyErr)
	}
	if closeErr != nil {
		return Object{}, fmt.Errorf("close object: %w", closeErr)
	}
	return Object{Bucket: bucket, Path: objectPath, Size: written, ContentType: contentType}, nil
}

func (s *LocalStore) URL(ctx context.Context, bucket, objectPath string) (string, error) {
	target, err := s.filePath(bucket, objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("stat object: %w", err)
	}
	segments := strings.Split(objectPath, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return s.publicPrefix + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/"), nil
}

func (s *LocalStore) Delete(ctx context.Context, bucket, objectPath string) error {
	target, err := s.filePath(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Handler serves stored objects read-only under publicPrefix.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix(s.publicPrefix, http.FileServer(http.Dir(s.baseDir)))
}
