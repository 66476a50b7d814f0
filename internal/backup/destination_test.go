package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/dbu/internal/compress"
)

func TestResolveDestination(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "existing")
	require.NoError(t, os.Mkdir(existing, 0o755))

	tests := []struct {
		name      string
		dest      string
		db        string
		kind      compress.Kind
		wantDump  string
		wantFinal string
	}{
		{
			name:      "existing directory",
			dest:      existing,
			db:        "Shop",
			kind:      compress.None,
			wantDump:  filepath.Join(existing, "backup_shop_2026-03-14_09-26-53.sql"),
			wantFinal: filepath.Join(existing, "backup_shop_2026-03-14_09-26-53.sql"),
		},
		{
			name:      "trailing slash creates directory",
			dest:      filepath.Join(root, "new") + "/",
			db:        "shop",
			kind:      compress.TarGz,
			wantDump:  filepath.Join(root, "new", "backup_shop_2026-03-14_09-26-53.sql"),
			wantFinal: filepath.Join(root, "new", "backup_shop_2026-03-14_09-26-53.tar.gz"),
		},
		{
			name:      "literal file",
			dest:      filepath.Join(root, "custom.sql"),
			db:        "shop",
			kind:      compress.None,
			wantDump:  filepath.Join(root, "custom.sql"),
			wantFinal: filepath.Join(root, "custom.sql"),
		},
		{
			name:      "literal file with compression",
			dest:      filepath.Join(root, "deep", "custom.zip"),
			db:        "shop",
			kind:      compress.Zip,
			wantDump:  filepath.Join(root, "deep", ".custom.zip.dump.sql"),
			wantFinal: filepath.Join(root, "deep", "custom.zip"),
		},
		{
			name:      "sqlite path as db name",
			dest:      existing,
			db:        "/var/lib/App.db",
			kind:      compress.None,
			wantDump:  filepath.Join(existing, "backup_app_2026-03-14_09-26-53.sql"),
			wantFinal: filepath.Join(existing, "backup_app_2026-03-14_09-26-53.sql"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ResolveDestination(tt.dest, tt.db, ".sql", tt.kind, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDump, plan.DumpPath)
			assert.Equal(t, tt.wantFinal, plan.FinalPath)
			assert.Equal(t, tt.wantDump != tt.wantFinal, plan.Temporary())
			assert.DirExists(t, filepath.Dir(plan.FinalPath))
		})
	}
}

func TestResolveDestination_Empty(t *testing.T) {
	plan, err := ResolveDestination("", "shop", ".archive", compress.None, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "backup_shop_2026-03-14_09-26-53.archive", plan.FinalPath)
}

func TestStemName(t *testing.T) {
	assert.Equal(t, "shop", stemName("SHOP"))
	assert.Equal(t, "data", stemName("./dir/data.sqlite3"))
	assert.Equal(t, "db", stemName(""))
}
