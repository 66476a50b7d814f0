package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type Type string

const (
	AWS   Type = "AWS"
	Azure Type = "AZURE"
	GCP   Type = "GCP"
	Minio Type = "MINIO"
	SFTP  Type = "SFTP"
	FTP   Type = "FTP"
	Local Type = "LOCAL"
)

func Types() []Type {
	return []Type{AWS, Azure, GCP, Minio, SFTP, FTP, Local}
}

func (t Type) Tag() string {
	return strings.ToLower(string(t))
}

func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AWS", "S3":
		return AWS, nil
	case "AZURE", "AZ":
		return Azure, nil
	case "GCP", "GCS":
		return GCP, nil
	case "MINIO":
		return Minio, nil
	case "SFTP", "SSH":
		return SFTP, nil
	case "FTP":
		return FTP, nil
	case "LOCAL", "FILE":
		return Local, nil
	}
	return "", apperrors.New(apperrors.TypeConfig,
		fmt.Sprintf("unsupported storage: %s", s),
		"Supported storage types are AWS, AZURE, GCP, MINIO, SFTP, FTP and LOCAL.")
}

// FileInfo describes one stored object. LastModified is nil when the provider does not report it.
type FileInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Provider is the uniform contract over every storage backend.
//
// Exists and ListFiles are lenient: provider failures are logged and reported
// as false or an empty listing. Upload, Download and Delete return Storage
// errors and never retry.
type Provider interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
	Download(ctx context.Context, key, destination string) (string, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) bool
	ListFiles(ctx context.Context) []FileInfo
	Close() error
}

// Factory builds a provider on demand so only the backend in use is ever dialled.
type Factory func(ctx context.Context) (Provider, error)

// Options carries what every provider needs besides its own config section.
type Options struct {
	Logger   *logger.Logger
	Progress *Progress
}

func (o Options) logger() *logger.Logger {
	if o.Logger == nil {
		return logger.Nop()
	}
	return o.Logger
}

// NewFactory returns the lazy constructor for t, reading its section of cfg.
func NewFactory(t Type, cfg config.CloudConfig, opts Options) (Factory, error) {
	switch t {
	case AWS:
		return func(ctx context.Context) (Provider, error) { return NewS3Provider(ctx, cfg.AWS, opts) }, nil
	case Azure:
		return func(ctx context.Context) (Provider, error) { return NewAzureProvider(cfg.Azure, opts) }, nil
	case GCP:
		return func(ctx context.Context) (Provider, error) { return NewGCSProvider(ctx, cfg.GCP, opts) }, nil
	case Minio:
		return func(ctx context.Context) (Provider, error) { return NewMinioProvider(cfg.Minio, opts) }, nil
	case SFTP:
		return func(ctx context.Context) (Provider, error) { return NewSFTPProvider(cfg.SFTP, opts) }, nil
	case FTP:
		return func(ctx context.Context) (Provider, error) { return NewFTPProvider(cfg.FTP, opts) }, nil
	case Local:
		return func(ctx context.Context) (Provider, error) { return NewLocalProvider(cfg.Local.Path, opts) }, nil
	}
	return nil, apperrors.New(apperrors.TypeNotFound, fmt.Sprintf("no storage provider for %s", t), "")
}

// downloadTarget resolves where a downloaded object is written. A directory
// destination (existing, or ending in a separator) gets the key's base name.
func downloadTarget(key, destination string) (string, error) {
	if destination == "" {
		destination = "."
	}
	isDir := strings.HasSuffix(destination, "/") || strings.HasSuffix(destination, string(os.PathSeparator))
	if !isDir {
		if info, err := os.Stat(destination); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if isDir {
		if err := os.MkdirAll(destination, 0o755); err != nil {
			return "", apperrors.Wrap(err, apperrors.TypeResource, "cannot create download directory", "Check permissions on the destination.")
		}
		return filepath.Join(destination, path.Base(key)), nil
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeResource, "cannot create download directory", "Check permissions on the destination.")
	}
	return destination, nil
}

// joinKey prefixes key with a provider-level folder, always with forward slashes.
func joinKey(prefix, key string) string {
	key = strings.TrimPrefix(filepath.ToSlash(key), "/")
	if prefix == "" {
		return key
	}
	return path.Join(strings.Trim(prefix, "/"), key)
}

func storageError(err error, op, key string) error {
	return apperrors.Wrap(err, apperrors.TypeStorage, fmt.Sprintf("%s %s failed", op, key), apperrors.Hint(err))
}

// openUpload opens localPath for reading and returns its size.
func openUpload(localPath string) (*os.File, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.TypeResource, "cannot open file for upload", "Check the --file-path value.")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, apperrors.Wrap(err, apperrors.TypeResource, "cannot stat file for upload", "")
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, apperrors.New(apperrors.TypeResource, fmt.Sprintf("%s is a directory", localPath), "Compress the directory first or pick a file.")
	}
	return f, info.Size(), nil
}

// createDownload writes into a temp sibling of target; commit renames it into place.
func createDownload(target string) (*os.File, func(error) error, error) {
	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.TypeResource, "cannot create download file", "Check permissions on the destination.")
	}
	commit := func(werr error) error {
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(tmp)
			return werr
		}
		return os.Rename(tmp, target)
	}
	return f, commit, nil
}
