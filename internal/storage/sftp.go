package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

// SFTPProvider stores objects under a remote directory over SSH. The
// connection is opened on first use.
type SFTPProvider struct {
	cfg        config.SFTPConfig
	addr       string
	remotePath string
	logger     *logger.Logger
	progress   *Progress

	mu         sync.Mutex
	client     *ssh.Client
	sftpClient *sftp.Client
}

func NewSFTPProvider(cfg config.SFTPConfig, opts Options) (*SFTPProvider, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "sftp host and user are required", "Set cloud.sftp.host and cloud.sftp.user.")
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return &SFTPProvider{
		cfg:        cfg,
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		remotePath: cfg.Path,
		logger:     opts.logger(),
		progress:   opts.Progress,
	}, nil
}

func (s *SFTPProvider) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if s.cfg.Password != "" {
		methods = append(methods, ssh.Password(s.cfg.Password))
	}

	if s.cfg.KeyFile != "" {
		if key, err := os.ReadFile(s.cfg.KeyFile); err == nil {
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			} else {
				s.logger.Warn("Ignoring unreadable SSH key", "path", s.cfg.KeyFile, "error", err)
			}
		}
	}
	if len(methods) > 0 {
		return methods
	}

	if authSock := os.Getenv("SSH_AUTH_SOCK"); authSock != "" {
		if conn, err := net.Dial("unix", authSock); err == nil {
			ag := agent.NewClient(conn)
			if signers, err := ag.Signers(); err == nil && len(signers) > 0 {
				methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, k := range []string{"id_rsa", "id_ed25519", "id_ecdsa"} {
			key, err := os.ReadFile(filepath.Join(home, ".ssh", k))
			if err != nil {
				continue
			}
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}
	return methods
}

func (s *SFTPProvider) connect() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftpClient != nil {
		return s.sftpClient, nil
	}

	auth := s.authMethods()
	if len(auth) == 0 {
		return nil, apperrors.New(apperrors.TypeAuth, "no supported SSH authentication methods found", "Set cloud.sftp.password or cloud.sftp.key_file, or run an SSH agent.")
	}

	client, err := ssh.Dial("tcp", s.addr, &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConnection, "failed to connect via SSH", "Check host reachability, SSH port, and credentials.")
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to create SFTP client", "Verify the SFTP subsystem is enabled on the remote host.")
	}

	s.client = client
	s.sftpClient = sftpClient
	return sftpClient, nil
}

func (s *SFTPProvider) remote(key string) string {
	return path.Join(s.remotePath, joinKey("", key))
}

func (s *SFTPProvider) Upload(ctx context.Context, key, localPath string) (string, error) {
	c, err := s.connect()
	if err != nil {
		return "", err
	}
	src, size, err := openUpload(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst := s.remote(key)
	if err := c.MkdirAll(path.Dir(dst)); err != nil {
		return "", storageError(fmt.Errorf("failed to create remote directory %s: %w", path.Dir(dst), err), "upload", key)
	}
	f, err := c.Create(dst)
	if err != nil {
		return "", storageError(err, "upload", key)
	}
	if _, err := io.Copy(f, s.progress.Reader(src, key, size)); err != nil {
		f.Close()
		return "", storageError(err, "upload", key)
	}
	if err := f.Close(); err != nil {
		return "", storageError(err, "upload", key)
	}
	return "sftp://" + s.addr + dst, nil
}

func (s *SFTPProvider) Download(ctx context.Context, key, destination string) (string, error) {
	c, err := s.connect()
	if err != nil {
		return "", err
	}
	in, err := c.Open(s.remote(key))
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
	var size int64
	if info, err := in.Stat(); err == nil {
		size = info.Size()
	}
	w := s.progress.Writer(out, key, size)
	_, err = io.Copy(w, in)
	finishWriter(w)
	if err := commit(err); err != nil {
		return "", storageError(err, "download", key)
	}
	return target, nil
}

func (s *SFTPProvider) Delete(ctx context.Context, key string) (bool, error) {
	c, err := s.connect()
	if err != nil {
		return false, err
	}
	if err := c.Remove(s.remote(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageError(err, "delete", key)
	}
	return true, nil
}

func (s *SFTPProvider) Exists(ctx context.Context, key string) bool {
	c, err := s.connect()
	if err != nil {
		s.logger.Warn("Existence check failed", "host", s.addr, "key", key, "error", err)
		return false
	}
	info, err := c.Stat(s.remote(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Existence check failed", "host", s.addr, "key", key, "error", err)
		}
		return false
	}
	return !info.IsDir()
}

func (s *SFTPProvider) ListFiles(ctx context.Context) []FileInfo {
	c, err := s.connect()
	if err != nil {
		s.logger.Warn("Listing remote directory failed", "host", s.addr, "error", err)
		return []FileInfo{}
	}

	root := s.remotePath
	if root == "" {
		root = "."
	}
	files := []FileInfo{}
	walker := c.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			s.logger.Warn("Listing remote directory failed", "host", s.addr, "path", walker.Path(), "error", err)
			return []FileInfo{}
		}
		info := walker.Stat()
		if info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, walker.Path())
		if err != nil {
			continue
		}
		mod := info.ModTime()
		files = append(files, FileInfo{Key: filepath.ToSlash(rel), Size: info.Size(), LastModified: &mod})
	}
	return files
}

func (s *SFTPProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftpClient != nil {
		s.sftpClient.Close()
		s.sftpClient = nil
	}
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}
