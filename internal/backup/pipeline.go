package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lupppig/dbu/internal/compress"
	"github.com/lupppig/dbu/internal/db"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

// Pipeline runs dumps and restores for one engine through a Runner.
// It implements both Backuper and Restorer.
type Pipeline struct {
	engine  db.Engine
	runner  db.Runner
	logger  *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Pipeline)

func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTimeout bounds each tool invocation. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(engine db.Engine, runner db.Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine: engine,
		runner: runner,
		logger: logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.runner == nil {
		p.runner = db.LocalRunner{}
	}
	return p
}

func (p *Pipeline) Backup(ctx context.Context, cfg Config) (string, error) {
	conn := cfg.Conn.WithDefaults()
	if conn.Type == "" {
		conn.Type = p.engine.Type()
	}
	if err := conn.Validate(); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeBackup, "invalid backup configuration", apperrors.Hint(err))
	}

	plan, err := ResolveDestination(cfg.Destination, conn.DBName, p.engine.Extension(), cfg.Compression, p.now())
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeBackup, "cannot prepare backup destination", apperrors.Hint(err))
	}

	l := p.logger.With("engine", conn.Type.Tag(), "db", conn.DBName)
	l.Info("Starting backup...", "output", plan.FinalPath, "compression", cfg.Compression)
	start := time.Now()

	cmd := p.engine.DumpCommand(conn, plan.DumpPath)
	cmd.Timeout = p.timeout
	l.Debug("Running dump tool", "cmd", cmd.String())

	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		os.Remove(plan.DumpPath)
		return "", p.launchError(apperrors.TypeBackup, cmd.Name, err)
	}
	if res.ExitCode != 0 {
		os.Remove(plan.DumpPath)
		l.Error("Dump tool failed", "exit_code", res.ExitCode, "stderr", res.Stderr)
		return "", apperrors.New(apperrors.TypeBackup,
			fmt.Sprintf("%s failed with exit code: %d", cmd.Name, res.ExitCode),
			stderrHint(res.Stderr)).WithExitCode(res.ExitCode)
	}

	if !plan.Temporary() {
		l.Info("Backup finished", "path", plan.FinalPath, "duration", time.Since(start).String())
		return plan.FinalPath, nil
	}

	out, err := compress.Compress(cfg.Compression, plan.DumpPath, plan.FinalPath)
	if err != nil {
		os.RemoveAll(plan.DumpPath)
		return "", apperrors.Wrap(err, apperrors.TypeBackup, "backup compression failed", apperrors.Hint(err))
	}
	if err := os.RemoveAll(plan.DumpPath); err != nil {
		l.Warn("Could not remove intermediate dump", "path", plan.DumpPath, "error", err)
	}

	l.Info("Backup finished", "path", out, "duration", time.Since(start).String())
	return out, nil
}

func (p *Pipeline) Restore(ctx context.Context, cfg RestoreConfig) (bool, error) {
	conn := cfg.Conn.WithDefaults()
	if conn.Type == "" {
		conn.Type = p.engine.Type()
	}
	if err := conn.Validate(); err != nil {
		return false, apperrors.Wrap(err, apperrors.TypeRestore, "invalid restore configuration", apperrors.Hint(err))
	}
	if cfg.Source == "" {
		return false, apperrors.New(apperrors.TypeRestore, "restore source is required", "Pass --input-path.")
	}
	if _, err := os.Stat(cfg.Source); err != nil {
		return false, apperrors.Wrap(err, apperrors.TypeRestore, "restore source not readable", "Check the --input-path value.")
	}

	l := p.logger.With("engine", conn.Type.Tag(), "db", conn.DBName)

	input, err := compress.DecompressIfNeeded(cfg.Source)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.TypeRestore, "cannot decompress backup", apperrors.Hint(err))
	}
	if input != cfg.Source {
		l.Info("Decompressed backup", "from", cfg.Source, "to", input)
	}

	l.Info("Restoring database...", "input", input)
	start := time.Now()

	cmd := p.engine.RestoreCommand(conn, input)
	cmd.Timeout = p.timeout
	l.Debug("Running restore tool", "cmd", cmd.String())

	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return false, p.launchError(apperrors.TypeRestore, cmd.Name, err)
	}
	if res.ExitCode != 0 {
		l.Error("Restore tool failed", "exit_code", res.ExitCode, "stderr", res.Stderr)
		return false, apperrors.New(apperrors.TypeRestore,
			fmt.Sprintf("%s failed with exit code: %d", cmd.Name, res.ExitCode),
			stderrHint(res.Stderr)).WithExitCode(res.ExitCode)
	}

	l.Info("Restore finished", "duration", time.Since(start).String())
	return true, nil
}

func (p *Pipeline) launchError(t apperrors.ErrorType, tool string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, t, tool+" timed out", "Raise exec.timeout in the configuration.")
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, t, tool+" was cancelled", "")
	default:
		return apperrors.Wrap(err, t, tool+" could not be started", apperrors.Hint(err))
	}
}

func stderrHint(stderr string) string {
	if stderr == "" {
		return "Check the database tool output and credentials."
	}
	return "Tool output: " + stderr
}
