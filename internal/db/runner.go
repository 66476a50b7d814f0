package db

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	apperrors "github.com/lupppig/dbu/internal/errors"
)

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	// Env entries are appended to the current process environment.
	Env []string
	// InputFile, when set, is opened and fed to the tool's stdin.
	InputFile string
	Stdin     io.Reader
	Stdout    io.Writer
	Timeout   time.Duration
}

// String renders the command line with secret-looking arguments masked.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if strings.HasPrefix(a, "--password=") {
			a = "--password=********"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

type Result struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Runner executes a Command and blocks until it exits.
// A non-zero exit is reported through Result.ExitCode with a nil error;
// the error is reserved for launch failures, timeouts and cancellation.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = c.Stdout
	cmd.Stdin = c.Stdin

	if c.InputFile != "" {
		f, err := os.Open(c.InputFile)
		if err != nil {
			return Result{ExitCode: -1}, apperrors.Wrap(err, apperrors.TypeResource, "cannot open input file", "Check the --input-path value.")
		}
		defer f.Close()
		cmd.Stdin = f
	}

	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stderr: stderr.String(), Duration: time.Since(start)}

	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	if isMissingBinary(err) || errors.Is(err, exec.ErrNotFound) {
		return res, apperrors.Wrap(err, apperrors.TypeDependency, c.Name+" not found", "Install the client tools for this database and make sure they are on PATH.")
	}
	return res, err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
