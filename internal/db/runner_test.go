package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lupppig/dbu/internal/errors"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests use /bin/sh")
	}
}

func TestLocalRunner_Success(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer

	res, err := LocalRunner{}.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", `printf "%s" "$DBU_TEST_VALUE"`},
		Env:    []string{"DBU_TEST_VALUE=hello"},
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello", out.String())
}

func TestLocalRunner_NonZeroExit(t *testing.T) {
	requireShell(t)

	res, err := LocalRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo access denied >&2; exit 2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "access denied", res.Stderr)
}

func TestLocalRunner_InputFile(t *testing.T) {
	requireShell(t)
	in := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(in, []byte("SELECT 1;"), 0o644))
	var out bytes.Buffer

	res, err := LocalRunner{}.Run(context.Background(), Command{Name: "cat", InputFile: in, Stdout: &out})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "SELECT 1;", out.String())
}

func TestLocalRunner_MissingBinary(t *testing.T) {
	res, err := LocalRunner{}.Run(context.Background(), Command{Name: "dbu-definitely-not-installed"})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, apperrors.IsType(err, apperrors.TypeDependency))
}

func TestLocalRunner_Timeout(t *testing.T) {
	requireShell(t)

	_, err := LocalRunner{}.Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 8}
	_, _ = tb.Write([]byte("0123456789"))
	_, _ = tb.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tb.String())
}

func TestCommand_StringMasksPassword(t *testing.T) {
	c := Command{Name: "mongodump", Args: []string{"--username=root", "--password=hunter2"}}
	s := c.String()
	assert.False(t, strings.Contains(s, "hunter2"))
	assert.Contains(t, s, "--username=root")
}
