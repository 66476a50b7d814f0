package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type GCSProvider struct {
	client   *storage.Client
	bucket   string
	expiry   time.Duration
	logger   *logger.Logger
	progress *Progress
}

func NewGCSProvider(ctx context.Context, cfg config.GCPConfig, opts Options) (*GCSProvider, error) {
	if cfg.Bucket == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "GCS bucket name is required", "Set cloud.gcp.bucket_name.")
	}

	var clientOpts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		clientOpts = append(clientOpts,
			option.WithEndpoint(cfg.Endpoint),
			option.WithoutAuthentication(),
			storage.WithJSONReads(),
		)
	case cfg.CredentialsPath != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeAuth, "failed to create GCS client", "Check cloud.gcp.credentials_path or application default credentials.")
	}

	expiry := cfg.SignedURLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &GCSProvider{
		client:   client,
		bucket:   cfg.Bucket,
		expiry:   expiry,
		logger:   opts.logger(),
		progress: opts.Progress,
	}, nil
}

// Upload returns a signed URL valid for the configured expiry, or a gs:// URI
// when the credentials cannot sign.
func (s *GCSProvider) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, size, err := openUpload(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	objectKey := joinKey("", key)
	w := s.client.Bucket(s.bucket).Object(objectKey).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, s.progress.Reader(f, key, size)); err != nil {
		w.Close()
		return "", storageError(err, "upload", key)
	}
	if err := w.Close(); err != nil {
		return "", storageError(err, "upload", key)
	}

	signed, err := s.client.Bucket(s.bucket).SignedURL(objectKey, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(s.expiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		s.logger.Debug("Signed URL unavailable", "key", key, "error", err)
		return fmt.Sprintf("gs://%s/%s", s.bucket, objectKey), nil
	}
	return signed, nil
}

func (s *GCSProvider) Download(ctx context.Context, key, destination string) (string, error) {
	r, err := s.client.Bucket(s.bucket).Object(joinKey("", key)).NewReader(ctx)
	if err != nil {
		return "", storageError(err, "download", key)
	}
	defer r.Close()

	target, err := downloadTarget(key, destination)
	if err != nil {
		return "", err
	}
	f, commit, err := createDownload(target)
	if err != nil {
		return "", err
	}
	w := s.progress.Writer(f, key, r.Attrs.Size)
	_, err = io.Copy(w, r)
	finishWriter(w)
	if err := commit(err); err != nil {
		return "", storageError(err, "download", key)
	}
	return target, nil
}

func (s *GCSProvider) Delete(ctx context.Context, key string) (bool, error) {
	err := s.client.Bucket(s.bucket).Object(joinKey("", key)).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, storageError(err, "delete", key)
	}
	return true, nil
}

func (s *GCSProvider) Exists(ctx context.Context, key string) bool {
	_, err := s.client.Bucket(s.bucket).Object(joinKey("", key)).Attrs(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			s.logger.Warn("Existence check failed", "bucket", s.bucket, "key", key, "error", err)
		}
		return false
	}
	return true
}

func (s *GCSProvider) ListFiles(ctx context.Context) []FileInfo {
	files := []FileInfo{}
	it := s.client.Bucket(s.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			s.logger.Warn("Listing bucket failed", "bucket", s.bucket, "error", err)
			return []FileInfo{}
		}
		info := FileInfo{Key: attrs.Name, Size: attrs.Size}
		if !attrs.Updated.IsZero() {
			mod := attrs.Updated
			info.LastModified = &mod
		}
		files = append(files, info)
	}
	return files
}

func (s *GCSProvider) Close() error {
	return s.client.Close()
}
