package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/dbu/internal/compress"
	"github.com/lupppig/dbu/internal/db"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

// fakeEngine emits commands whose first argument is the file the tool works on.
type fakeEngine struct{}

func (fakeEngine) TestConnection(ctx context.Context, conn db.ConnectionParams) error { return nil }
func (fakeEngine) Type() db.DatabaseType                                              { return db.PostgreSQL }
func (fakeEngine) Extension() string                                                  { return ".sql" }
func (fakeEngine) SetLogger(l *logger.Logger)                                         {}

func (fakeEngine) DumpCommand(conn db.ConnectionParams, out string) db.Command {
	return db.Command{Name: "fake-dump", Args: []string{out}}
}

func (fakeEngine) RestoreCommand(conn db.ConnectionParams, in string) db.Command {
	return db.Command{Name: "fake-restore", Args: []string{in}}
}

// fakeRunner writes payload to the dump target, or records the restore input.
type fakeRunner struct {
	payload  []byte
	exitCode int
	stderr   string
	err      error

	calls    []db.Command
	restored []byte
}

func (f *fakeRunner) Run(ctx context.Context, cmd db.Command) (db.Result, error) {
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return db.Result{ExitCode: -1}, f.err
	}
	switch cmd.Name {
	case "fake-dump":
		if f.exitCode == 0 {
			if err := os.WriteFile(cmd.Args[0], f.payload, 0o644); err != nil {
				return db.Result{}, err
			}
		}
	case "fake-restore":
		data, err := os.ReadFile(cmd.Args[0])
		if err != nil {
			return db.Result{}, err
		}
		f.restored = data
	}
	return db.Result{ExitCode: f.exitCode, Stderr: f.stderr}, nil
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testConn() db.ConnectionParams {
	return db.ConnectionParams{Type: db.PostgreSQL, Host: "localhost", Port: 5432, User: "u", DBName: "TestDB"}
}

func TestPipeline_BackupSynthesizedName(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{payload: []byte("CREATE TABLE t();")}
	p := NewPipeline(fakeEngine{}, runner, WithClock(func() time.Time { return fixedNow }))

	tests := []struct {
		kind compress.Kind
		want string
	}{
		{compress.None, "backup_testdb_2026-03-14_09-26-53.sql"},
		{compress.Gzip, "backup_testdb_2026-03-14_09-26-53.gzip"},
		{compress.Zip, "backup_testdb_2026-03-14_09-26-53.zip"},
		{compress.TarGz, "backup_testdb_2026-03-14_09-26-53.tar.gz"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			out, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: dir + "/", Compression: tt.kind})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), out)
			assert.FileExists(t, out)

			if tt.kind != compress.None {
				assert.NoFileExists(t, filepath.Join(dir, "backup_testdb_2026-03-14_09-26-53.sql"))
			}
		})
	}
}

func TestPipeline_BackupMatchesNamePattern(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(fakeEngine{}, &fakeRunner{payload: []byte("x")})

	out, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: dir, Compression: compress.Gzip})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^backup_testdb_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.gzip$`), filepath.Base(out))
}

func TestPipeline_BackupLiteralDestination(t *testing.T) {
	dir := t.TempDir()

	t.Run("uncompressed", func(t *testing.T) {
		dest := filepath.Join(dir, "custom.sql")
		p := NewPipeline(fakeEngine{}, &fakeRunner{payload: []byte("x")})
		out, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: dest, Compression: compress.None})
		require.NoError(t, err)
		assert.Equal(t, dest, out)
	})

	t.Run("compressed into nested dir", func(t *testing.T) {
		dest := filepath.Join(dir, "nested", "shop.sql.gz")
		runner := &fakeRunner{payload: []byte("INSERT 1;")}
		p := NewPipeline(fakeEngine{}, runner)
		out, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: dest, Compression: compress.Gzip})
		require.NoError(t, err)
		assert.Equal(t, dest, out)

		entries, err := os.ReadDir(filepath.Dir(dest))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "intermediate dump must be removed")

		restored, err := compress.DecompressIfNeeded(out)
		require.NoError(t, err)
		data, err := os.ReadFile(restored)
		require.NoError(t, err)
		assert.Equal(t, "INSERT 1;", string(data))
	})
}

func TestPipeline_BackupCompressionFailureRemovesDump(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "shop.sql.rar")

	p := NewPipeline(fakeEngine{}, &fakeRunner{payload: []byte("INSERT 1;")})
	_, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: dest, Compression: compress.Kind("RAR")})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeBackup))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Empty(t, entries, "intermediate dump must not outlive a failed compression")
}

func TestPipeline_BackupToolFailure(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{exitCode: 2, stderr: "pg_dump: error: connection refused"}
	p := NewPipeline(fakeEngine{}, runner)

	_, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: dir})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeBackup))
	assert.Contains(t, err.Error(), "exit code: 2")

	code, ok := apperrors.ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 2, code)
	assert.Contains(t, apperrors.Hint(err), "connection refused")

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestPipeline_BackupLaunchFailure(t *testing.T) {
	missing := apperrors.Wrap(errors.New("exec: not found"), apperrors.TypeDependency, "pg_dump not found", "install it")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing binary", missing, missing},
		{"timeout", context.DeadlineExceeded, context.DeadlineExceeded},
		{"cancelled", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(fakeEngine{}, &fakeRunner{err: tt.err}, WithTimeout(time.Second))
			_, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: t.TempDir()})
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.TypeBackup))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPipeline_BackupPassesTimeout(t *testing.T) {
	runner := &fakeRunner{payload: []byte("x")}
	p := NewPipeline(fakeEngine{}, runner, WithTimeout(90*time.Second))

	_, err := p.Backup(context.Background(), Config{Conn: testConn(), Destination: t.TempDir()})
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, 90*time.Second, runner.calls[0].Timeout)
}

func TestPipeline_BackupInvalidConn(t *testing.T) {
	p := NewPipeline(fakeEngine{}, &fakeRunner{})
	conn := testConn()
	conn.DBName = ""

	_, err := p.Backup(context.Background(), Config{Conn: conn, Destination: t.TempDir()})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeBackup))
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
}

func TestPipeline_Restore(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(raw, []byte("SELECT 1;"), 0o644))

	for _, kind := range []compress.Kind{compress.None, compress.Gzip, compress.Zip, compress.TarGz} {
		t.Run(string(kind), func(t *testing.T) {
			src := raw
			if kind != compress.None {
				var err error
				src, err = compress.Compress(kind, raw, filepath.Join(dir, "restore_"+string(kind)+kind.Suffix()))
				require.NoError(t, err)
			}

			runner := &fakeRunner{}
			p := NewPipeline(fakeEngine{}, runner)
			ok, err := p.Restore(context.Background(), RestoreConfig{Conn: testConn(), Source: src})
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "SELECT 1;", string(runner.restored))
		})
	}
}

func TestPipeline_RestoreFailures(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(raw, []byte("SELECT 1;"), 0o644))

	t.Run("tool exit code", func(t *testing.T) {
		p := NewPipeline(fakeEngine{}, &fakeRunner{exitCode: 3})
		ok, err := p.Restore(context.Background(), RestoreConfig{Conn: testConn(), Source: raw})
		assert.False(t, ok)
		assert.True(t, apperrors.IsType(err, apperrors.TypeRestore))
		assert.Contains(t, err.Error(), "exit code: 3")
	})

	t.Run("corrupt archive", func(t *testing.T) {
		bad := filepath.Join(dir, "broken.zip")
		require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))

		runner := &fakeRunner{}
		p := NewPipeline(fakeEngine{}, runner)
		_, err := p.Restore(context.Background(), RestoreConfig{Conn: testConn(), Source: bad})
		assert.True(t, apperrors.IsType(err, apperrors.TypeRestore))
		assert.Empty(t, runner.calls)
	})

	t.Run("missing source", func(t *testing.T) {
		p := NewPipeline(fakeEngine{}, &fakeRunner{})
		_, err := p.Restore(context.Background(), RestoreConfig{Conn: testConn(), Source: filepath.Join(dir, "nope.sql")})
		assert.True(t, apperrors.IsType(err, apperrors.TypeRestore))
	})
}
