package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type AzureProvider struct {
	container azblob.ContainerURL
	name      string
	logger    *logger.Logger
	progress  *Progress
}

func NewAzureProvider(cfg config.AzureConfig, opts Options) (*AzureProvider, error) {
	account, key, endpoint, err := azureCredentials(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Container == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "azure container name is required", "Set cloud.azure.container_name.")
	}

	credential, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeAuth, "failed to create Azure credentials", "Check the account name and key.")
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to parse Azure service URL", "")
	}

	return &AzureProvider{
		container: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.Container),
		name:      cfg.Container,
		logger:    opts.logger(),
		progress:  opts.Progress,
	}, nil
}

// azureCredentials reads AccountName, AccountKey and an optional BlobEndpoint
// from the connection string, falling back to the explicit fields.
func azureCredentials(cfg config.AzureConfig) (account, key, endpoint string, err error) {
	account, key = cfg.AccountName, cfg.AccountKey
	protocol, suffix := "https", "core.windows.net"

	for _, part := range strings.Split(cfg.ConnectionString, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "AccountName":
			account = v
		case "AccountKey":
			key = v
		case "DefaultEndpointsProtocol":
			protocol = v
		case "EndpointSuffix":
			suffix = v
		case "BlobEndpoint":
			endpoint = v
		}
	}

	if account == "" || key == "" {
		return "", "", "", apperrors.New(apperrors.TypeConfig, "azure account name and key are required",
			"Set cloud.azure.connection_string, or cloud.azure.account_name and cloud.azure.account_key.")
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s://%s.blob.%s", protocol, account, suffix)
	}
	return account, key, endpoint, nil
}

func (s *AzureProvider) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, size, err := openUpload(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	blob := s.container.NewBlockBlobURL(joinKey("", key))
	_, err = azblob.UploadStreamToBlockBlob(ctx, s.progress.Reader(f, key, size), blob, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", storageError(err, "upload", key)
	}
	u := blob.URL()
	return u.String(), nil
}

func (s *AzureProvider) Download(ctx context.Context, key, destination string) (string, error) {
	blob := s.container.NewBlockBlobURL(joinKey("", key))
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return "", storageError(err, "download", key)
	}
	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	target, err := downloadTarget(key, destination)
	if err != nil {
		return "", err
	}
	f, commit, err := createDownload(target)
	if err != nil {
		return "", err
	}
	w := s.progress.Writer(f, key, resp.ContentLength())
	_, err = io.Copy(w, body)
	finishWriter(w)
	if err := commit(err); err != nil {
		return "", storageError(err, "download", key)
	}
	return target, nil
}

func (s *AzureProvider) Delete(ctx context.Context, key string) (bool, error) {
	blob := s.container.NewBlockBlobURL(joinKey("", key))
	_, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if isBlobNotFound(err) {
			return false, nil
		}
		return false, storageError(err, "delete", key)
	}
	return true, nil
}

func (s *AzureProvider) Exists(ctx context.Context, key string) bool {
	blob := s.container.NewBlockBlobURL(joinKey("", key))
	_, err := blob.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if !isBlobNotFound(err) {
			s.logger.Warn("Existence check failed", "container", s.name, "key", key, "error", err)
		}
		return false
	}
	return true
}

func (s *AzureProvider) ListFiles(ctx context.Context) []FileInfo {
	files := []FileInfo{}
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := s.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{})
		if err != nil {
			s.logger.Warn("Listing container failed", "container", s.name, "error", err)
			return []FileInfo{}
		}
		for _, item := range resp.Segment.BlobItems {
			info := FileInfo{Key: item.Name}
			if item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			mod := item.Properties.LastModified
			if !mod.IsZero() {
				info.LastModified = &mod
			}
			files = append(files, info)
		}
		marker = resp.NextMarker
	}
	return files
}

func (s *AzureProvider) Close() error { return nil }

func isBlobNotFound(err error) bool {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		if stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return true
		}
		resp := stgErr.Response()
		return resp != nil && resp.StatusCode == 404
	}
	return false
}
