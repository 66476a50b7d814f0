package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type MinioProvider struct {
	client   *minio.Client
	bucket   string
	endpoint string
	useSSL   bool
	logger   *logger.Logger
	progress *Progress
}

func NewMinioProvider(cfg config.MinioConfig, opts Options) (*MinioProvider, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "minio endpoint and bucket are required", "Set cloud.minio.endpoint and cloud.minio.bucket_name.")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConnection, "failed to create minio client", "Check cloud.minio.endpoint.")
	}
	return &MinioProvider{
		client:   client,
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		useSSL:   cfg.UseSSL,
		logger:   opts.logger(),
		progress: opts.Progress,
	}, nil
}

func (s *MinioProvider) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, size, err := openUpload(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	objectKey := joinKey("", key)
	_, err = s.client.PutObject(ctx, s.bucket, objectKey, s.progress.Reader(f, key, size), size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", storageError(err, "upload", key)
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, objectKey), nil
}

func (s *MinioProvider) Download(ctx context.Context, key, destination string) (string, error) {
	target, err := downloadTarget(key, destination)
	if err != nil {
		return "", err
	}
	if err := s.client.FGetObject(ctx, s.bucket, joinKey("", key), target, minio.GetObjectOptions{}); err != nil {
		return "", storageError(err, "download", key)
	}
	return target, nil
}

func (s *MinioProvider) Delete(ctx context.Context, key string) (bool, error) {
	found, err := s.stat(ctx, key)
	if err != nil {
		return false, storageError(err, "delete", key)
	}
	if !found {
		return false, nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, joinKey("", key), minio.RemoveObjectOptions{}); err != nil {
		return false, storageError(err, "delete", key)
	}
	return true, nil
}

func (s *MinioProvider) Exists(ctx context.Context, key string) bool {
	found, err := s.stat(ctx, key)
	if err != nil {
		s.logger.Warn("Existence check failed", "bucket", s.bucket, "key", key, "error", err)
		return false
	}
	return found
}

func (s *MinioProvider) stat(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, joinKey("", key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return false, nil
	}
	return false, err
}

func (s *MinioProvider) ListFiles(ctx context.Context) []FileInfo {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	files := []FileInfo{}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			s.logger.Warn("Listing bucket failed", "bucket", s.bucket, "error", obj.Err)
			return []FileInfo{}
		}
		info := FileInfo{Key: obj.Key, Size: obj.Size}
		if !obj.LastModified.IsZero() {
			mod := obj.LastModified
			info.LastModified = &mod
		}
		files = append(files, info)
	}
	return files
}

func (s *MinioProvider) Close() error { return nil }
