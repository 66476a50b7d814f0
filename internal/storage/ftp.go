package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

// FTPProvider keeps a single control connection; calls are serialised on it.
type FTPProvider struct {
	addr       string
	user       string
	password   string
	timeout    time.Duration
	remotePath string
	logger     *logger.Logger
	progress   *Progress

	mu     sync.Mutex
	client *ftp.ServerConn
}

func NewFTPProvider(cfg config.FTPConfig, opts Options) (*FTPProvider, error) {
	if cfg.Host == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "ftp host is required", "Set cloud.ftp.host.")
	}
	port := cfg.Port
	if port == 0 {
		port = 21
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FTPProvider{
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		user:       cfg.User,
		password:   cfg.Password,
		timeout:    timeout,
		remotePath: cfg.Path,
		logger:     opts.logger(),
		progress:   opts.Progress,
	}, nil
}

// conn returns the logged-in control connection. Callers hold s.mu.
func (s *FTPProvider) conn(ctx context.Context) (*ftp.ServerConn, error) {
	if s.client != nil {
		return s.client, nil
	}
	c, err := ftp.Dial(s.addr, ftp.DialWithTimeout(s.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConnection, "failed to connect to FTP server", "Check cloud.ftp.host and cloud.ftp.port.")
	}
	if err := c.Login(s.user, s.password); err != nil {
		c.Quit()
		return nil, apperrors.Wrap(err, apperrors.TypeAuth, "FTP login failed", "Check cloud.ftp.user and cloud.ftp.password.")
	}
	s.client = c
	return c, nil
}

func (s *FTPProvider) remote(key string) string {
	if s.remotePath == "" {
		return joinKey("", key)
	}
	return path.Join(s.remotePath, joinKey("", key))
}

func (s *FTPProvider) Upload(ctx context.Context, key, localPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn(ctx)
	if err != nil {
		return "", err
	}
	src, size, err := openUpload(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst := s.remote(key)
	s.ensureDir(c, path.Dir(dst))
	if err := c.Stor(dst, s.progress.Reader(src, key, size)); err != nil {
		return "", storageError(err, "upload", key)
	}
	return "ftp://" + s.addr + "/" + strings.TrimPrefix(dst, "/"), nil
}

func (s *FTPProvider) Download(ctx context.Context, key, destination string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn(ctx)
	if err != nil {
		return "", err
	}
	r, err := c.Retr(s.remote(key))
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
	w := s.progress.Writer(f, key, 0)
	_, err = io.Copy(w, r)
	finishWriter(w)
	if err := commit(err); err != nil {
		return "", storageError(err, "download", key)
	}
	return target, nil
}

func (s *FTPProvider) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	if err := c.Delete(s.remote(key)); err != nil {
		if isFTPNotFound(err) {
			return false, nil
		}
		return false, storageError(err, "delete", key)
	}
	return true, nil
}

func (s *FTPProvider) Exists(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn(ctx)
	if err != nil {
		s.logger.Warn("Existence check failed", "host", s.addr, "key", key, "error", err)
		return false
	}
	if _, err := c.FileSize(s.remote(key)); err != nil {
		if !isFTPNotFound(err) {
			s.logger.Warn("Existence check failed", "host", s.addr, "key", key, "error", err)
		}
		return false
	}
	return true
}

func (s *FTPProvider) ListFiles(ctx context.Context) []FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn(ctx)
	if err != nil {
		s.logger.Warn("Listing FTP directory failed", "host", s.addr, "error", err)
		return []FileInfo{}
	}

	root := s.remotePath
	if root == "" {
		root = "/"
	}
	files := []FileInfo{}
	w := c.Walk(root)
	for w.Next() {
		if err := w.Err(); err != nil {
			s.logger.Warn("Listing FTP directory failed", "host", s.addr, "path", w.Path(), "error", err)
			return []FileInfo{}
		}
		entry := w.Stat()
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		key := strings.TrimPrefix(strings.TrimPrefix(w.Path(), strings.TrimSuffix(root, "/")), "/")
		info := FileInfo{Key: key, Size: int64(entry.Size)}
		if !entry.Time.IsZero() {
			mod := entry.Time
			info.LastModified = &mod
		}
		files = append(files, info)
	}
	return files
}

func (s *FTPProvider) ensureDir(c *ftp.ServerConn, dir string) {
	if dir == "." || dir == "/" || dir == "" {
		return
	}
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		_ = c.MakeDir(current) // already exists is fine
	}
}

func (s *FTPProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Quit()
	s.client = nil
	return err
}

func isFTPNotFound(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusFileUnavailable
	}
	return false
}
