package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"aws", AWS, false},
		{"S3", AWS, false},
		{"azure", Azure, false},
		{"gcs", GCP, false},
		{"Minio", Minio, false},
		{"ssh", SFTP, false},
		{"ftp", FTP, false},
		{" local ", Local, false},
		{"dropbox", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownloadTarget(t *testing.T) {
	dir := t.TempDir()

	got, err := downloadTarget("backups/shop.sql.gz", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shop.sql.gz"), got)

	got, err = downloadTarget("shop.sql", filepath.Join(dir, "fresh")+"/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fresh", "shop.sql"), got)
	assert.DirExists(t, filepath.Join(dir, "fresh"))

	literal := filepath.Join(dir, "nested", "renamed.sql")
	got, err = downloadTarget("shop.sql", literal)
	require.NoError(t, err)
	assert.Equal(t, literal, got)
	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a/b.sql", joinKey("", "/a/b.sql"))
	assert.Equal(t, "backups/b.sql", joinKey("/backups/", "b.sql"))
}

func TestAzureCredentials(t *testing.T) {
	t.Run("connection string", func(t *testing.T) {
		account, key, endpoint, err := azureCredentials(config.AzureConfig{
			ConnectionString: "DefaultEndpointsProtocol=https;AccountName=acme;AccountKey=c2VjcmV0;EndpointSuffix=core.windows.net",
		})
		require.NoError(t, err)
		assert.Equal(t, "acme", account)
		assert.Equal(t, "c2VjcmV0", key)
		assert.Equal(t, "https://acme.blob.core.windows.net", endpoint)
	})

	t.Run("blob endpoint override", func(t *testing.T) {
		_, _, endpoint, err := azureCredentials(config.AzureConfig{
			ConnectionString: "AccountName=devstoreaccount1;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1",
		})
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", endpoint)
	})

	t.Run("explicit fields", func(t *testing.T) {
		account, _, _, err := azureCredentials(config.AzureConfig{AccountName: "acme", AccountKey: "a2V5"})
		require.NoError(t, err)
		assert.Equal(t, "acme", account)
	})

	t.Run("missing", func(t *testing.T) {
		_, _, _, err := azureCredentials(config.AzureConfig{})
		assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
	})
}

func TestNewFactory(t *testing.T) {
	cfg := config.CloudConfig{Local: config.LocalConfig{Path: t.TempDir()}}

	for _, typ := range Types() {
		f, err := NewFactory(typ, cfg, Options{})
		require.NoError(t, err, typ)
		assert.NotNil(t, f)
	}

	_, err := NewFactory(Type("DROPBOX"), cfg, Options{})
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))

	t.Run("lazy construction validates config", func(t *testing.T) {
		for _, typ := range []Type{AWS, Azure, GCP, Minio, SFTP, FTP} {
			f, err := NewFactory(typ, config.CloudConfig{}, Options{})
			require.NoError(t, err)
			_, err = f(context.Background())
			assert.True(t, apperrors.IsType(err, apperrors.TypeConfig), typ)
		}
	})
}

func TestOpenUpload_Directory(t *testing.T) {
	_, _, err := openUpload(t.TempDir())
	assert.True(t, apperrors.IsType(err, apperrors.TypeResource))

	_, _, err = openUpload(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, apperrors.IsType(err, apperrors.TypeResource))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}
