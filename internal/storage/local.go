package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

// LocalProvider stores objects as files under a base directory.
type LocalProvider struct {
	baseDir  string
	logger   *logger.Logger
	progress *Progress
}

func NewLocalProvider(baseDir string, opts Options) (*LocalProvider, error) {
	if baseDir == "" {
		baseDir = "./"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeStorage, "cannot create local storage directory", "Check cloud.local.path.")
	}
	return &LocalProvider{baseDir: baseDir, logger: opts.logger(), progress: opts.Progress}, nil
}

func (s *LocalProvider) path(key string) (string, error) {
	p := filepath.Join(s.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.baseDir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", apperrors.New(apperrors.TypeConfig, "invalid storage key: "+key, "Keys must stay inside the storage directory.")
	}
	return p, nil
}

func (s *LocalProvider) Upload(ctx context.Context, key, localPath string) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	src, size, err := openUpload(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", storageError(err, "upload", key)
	}

	tmpPath := dst + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", storageError(err, "upload", key)
	}
	defer os.Remove(tmpPath)

	if _, err := io.Copy(f, s.progress.Reader(src, key, size)); err != nil {
		f.Close()
		return "", storageError(err, "upload", key)
	}
	if err := f.Close(); err != nil {
		return "", storageError(err, "upload", key)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", storageError(err, "upload", key)
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (s *LocalProvider) Download(ctx context.Context, key, destination string) (string, error) {
	src, err := s.path(key)
	if err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", storageError(err, "download", key)
	}
	defer in.Close()

	target, err := downloadTarget(key, destination)
	if err != nil {
		return "", err
	}
	out, commit, err := createDownload(target)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(out, in)
	if err := commit(err); err != nil {
		return "", storageError(err, "download", key)
	}
	return target, nil
}

func (s *LocalProvider) Delete(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageError(err, "delete", key)
	}
	return true, nil
}

func (s *LocalProvider) Exists(ctx context.Context, key string) bool {
	p, err := s.path(key)
	if err != nil {
		s.logger.Warn("Existence check failed", "key", key, "error", err)
		return false
	}
	info, err := os.Stat(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Existence check failed", "key", key, "error", err)
		}
		return false
	}
	return !info.IsDir()
}

func (s *LocalProvider) ListFiles(ctx context.Context) []FileInfo {
	var files []FileInfo
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return nil
		}
		mod := info.ModTime()
		files = append(files, FileInfo{Key: filepath.ToSlash(rel), Size: info.Size(), LastModified: &mod})
		return nil
	})
	if err != nil {
		s.logger.Warn("Listing local storage failed", "dir", s.baseDir, "error", err)
		return []FileInfo{}
	}
	return files
}

func (s *LocalProvider) Close() error { return nil }
