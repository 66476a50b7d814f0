// Package executor maps database and storage types to the implementations
// that serve them.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lupppig/dbu/internal/backup"
	"github.com/lupppig/dbu/internal/config"
	"github.com/lupppig/dbu/internal/db"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
	"github.com/lupppig/dbu/internal/scheduler"
	"github.com/lupppig/dbu/internal/storage"
)

type Namespace string

const (
	Backup  Namespace = "Backup"
	Restore Namespace = "Restore"
	Connect Namespace = "Connect"
	Storage Namespace = "Storage"
)

// Name is the registered name of an implementation, e.g. "mysqlBackup".
func Name(tag string, ns Namespace) string {
	return strings.ToLower(tag) + string(ns)
}

// NotFound is the error callers return when a lookup reports ok == false.
func NotFound(ns Namespace, tag string) error {
	return apperrors.New(apperrors.TypeNotFound,
		fmt.Sprintf("no implementation registered as %s", Name(tag, ns)),
		fmt.Sprintf("%q is not a supported %s type.", tag, strings.ToLower(string(ns))))
}

// Registry is a typed lookup table. Lookups never fail and never perform I/O.
type Registry struct {
	backupers  map[db.DatabaseType]backup.Backuper
	restorers  map[db.DatabaseType]backup.Restorer
	connectors map[db.DatabaseType]db.Connector
	storages   map[storage.Type]storage.Factory
	logger     *logger.Logger
}

func NewRegistry(l *logger.Logger) *Registry {
	if l == nil {
		l = logger.Nop()
	}
	return &Registry{
		backupers:  make(map[db.DatabaseType]backup.Backuper),
		restorers:  make(map[db.DatabaseType]backup.Restorer),
		connectors: make(map[db.DatabaseType]db.Connector),
		storages:   make(map[storage.Type]storage.Factory),
		logger:     l,
	}
}

func (r *Registry) RegisterBackuper(t db.DatabaseType, b backup.Backuper)  { r.backupers[t] = b }
func (r *Registry) RegisterRestorer(t db.DatabaseType, rs backup.Restorer) { r.restorers[t] = rs }
func (r *Registry) RegisterConnector(t db.DatabaseType, c db.Connector)    { r.connectors[t] = c }
func (r *Registry) RegisterStorage(t storage.Type, f storage.Factory)      { r.storages[t] = f }

func (r *Registry) Backup(t db.DatabaseType) (backup.Backuper, bool) {
	b, ok := r.backupers[t]
	return b, ok
}

func (r *Registry) Restore(t db.DatabaseType) (backup.Restorer, bool) {
	rs, ok := r.restorers[t]
	return rs, ok
}

func (r *Registry) Connect(t db.DatabaseType) (db.Connector, bool) {
	c, ok := r.connectors[t]
	return c, ok
}

func (r *Registry) Storage(t storage.Type) (storage.Factory, bool) {
	f, ok := r.storages[t]
	return f, ok
}

type Options struct {
	Runner   db.Runner
	Logger   *logger.Logger
	Timeout  time.Duration
	Cloud    config.CloudConfig
	Progress *storage.Progress
}

// Default registers every supported database engine and storage provider.
func Default(opts Options) *Registry {
	l := opts.Logger
	if l == nil {
		l = logger.Nop()
	}
	r := NewRegistry(l)

	engines := []db.Engine{
		db.NewMysqlEngine(),
		db.NewPostgresEngine(),
		db.NewMongoEngine(),
		db.NewSqliteEngine(),
	}
	for _, e := range engines {
		el := l.With("engine", e.Type().Tag())
		e.SetLogger(el)
		p := backup.NewPipeline(e, opts.Runner, backup.WithLogger(el), backup.WithTimeout(opts.Timeout))
		r.RegisterBackuper(e.Type(), p)
		r.RegisterRestorer(e.Type(), p)
		r.RegisterConnector(e.Type(), e)
	}

	for _, t := range storage.Types() {
		f, err := storage.NewFactory(t, opts.Cloud, storage.Options{Logger: l.With("storage", t.Tag()), Progress: opts.Progress})
		if err != nil {
			l.Warn("Storage provider unavailable", "storage", t, "error", err)
			continue
		}
		r.RegisterStorage(t, f)
	}
	return r
}

// RunBackupJob is the scheduler's entry point: it runs the stored backup
// snapshot exactly like a manual backup.
func (r *Registry) RunBackupJob(ctx context.Context, desc scheduler.JobDescriptor) error {
	runID := uuid.NewString()
	l := r.logger.With("run_id", runID, "job", desc.Key.Name, "group", desc.Key.Group)

	cfg := desc.Config
	cfg.Cron = ""

	b, ok := r.Backup(cfg.Conn.Type)
	if !ok {
		return NotFound(Backup, string(cfg.Conn.Type))
	}

	l.Info("Running scheduled backup", "impl", Name(string(cfg.Conn.Type), Backup))
	out, err := b.Backup(ctx, cfg)
	if err != nil {
		return err
	}
	l.Info("Scheduled backup written", "path", out)
	return nil
}

// Execute lets the registry serve as the scheduler's Executor.
func (r *Registry) Execute(ctx context.Context, desc scheduler.JobDescriptor) error {
	return r.RunBackupJob(ctx, desc)
}

var _ scheduler.Executor = (*Registry)(nil)
