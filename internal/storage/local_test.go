package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lupppig/dbu/internal/errors"
)

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "store")
	s, err := NewLocalProvider(base, Options{})
	require.NoError(t, err)
	defer s.Close()

	src := writeFile(t, t.TempDir(), "shop.sql", "CREATE TABLE shop();")

	t.Run("UploadAndDownload", func(t *testing.T) {
		url, err := s.Upload(ctx, "nightly/shop.sql", src)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "file://"))
		assert.True(t, strings.HasSuffix(url, "/store/nightly/shop.sql"))

		out := t.TempDir()
		got, err := s.Download(ctx, "nightly/shop.sql", out)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(out, "shop.sql"), got)

		data, err := os.ReadFile(got)
		require.NoError(t, err)
		assert.Equal(t, "CREATE TABLE shop();", string(data))
	})

	t.Run("Exists", func(t *testing.T) {
		assert.True(t, s.Exists(ctx, "nightly/shop.sql"))
		assert.False(t, s.Exists(ctx, "nightly/missing.sql"))
		assert.False(t, s.Exists(ctx, "nightly"))
		assert.False(t, s.Exists(ctx, "../escape"))
	})

	t.Run("ListFiles", func(t *testing.T) {
		_, err := s.Upload(ctx, "second.sql", src)
		require.NoError(t, err)

		files := s.ListFiles(ctx)
		keys := make([]string, 0, len(files))
		for _, f := range files {
			keys = append(keys, f.Key)
			assert.Equal(t, int64(len("CREATE TABLE shop();")), f.Size)
			assert.NotNil(t, f.LastModified)
		}
		assert.ElementsMatch(t, []string{"nightly/shop.sql", "second.sql"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		ok, err := s.Delete(ctx, "second.sql")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Delete(ctx, "second.sql")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DownloadMissing", func(t *testing.T) {
		_, err := s.Download(ctx, "nope.sql", t.TempDir())
		assert.True(t, apperrors.IsType(err, apperrors.TypeStorage))
	})

	t.Run("KeyEscape", func(t *testing.T) {
		_, err := s.Upload(ctx, "../../etc/passwd", src)
		assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
	})
}

func TestLocalProvider_ListMissingDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "store")
	s, err := NewLocalProvider(base, Options{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(base))

	files := s.ListFiles(context.Background())
	assert.NotNil(t, files)
	assert.Empty(t, files)
}
