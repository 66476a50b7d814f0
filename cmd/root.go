package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/executor"
	"github.com/lupppig/dbu/internal/logger"
	"github.com/lupppig/dbu/internal/notify"
	"github.com/lupppig/dbu/internal/scheduler"
	"github.com/lupppig/dbu/internal/storage"
)

// rootOptions holds the global flags and the state built from them before a command runs.
type rootOptions struct {
	configPath string
	logJSON    bool
	noColor    bool
	logLevel   string
	logFile    string
	progress   bool

	conf   *config.Config
	logger *logger.Logger
	bars   *storage.Progress
}

func NewRootCmd() *cobra.Command {
	o := &rootOptions{}

	root := &cobra.Command{
		Use:   "dbu",
		Short: "dbu backs up, restores and schedules backups of MySQL, PostgreSQL, MongoDB and SQLite databases",
		Long: `dbu drives the native dump and restore tools of each database engine, compresses
the results, moves them to and from cloud or remote storage, and schedules
recurring backups with cron expressions.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			o.bars.Close()
		},
	}
	root.Version = Version
	root.SetVersionTemplate("dbu version {{ .Version }}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "path to configuration file (default ./dbu.yaml or ~/.dbu/dbu.yaml)")
	pf.BoolVar(&o.logJSON, "log-json", false, "emit logs as JSON")
	pf.BoolVar(&o.noColor, "no-color", false, "disable coloured output")
	pf.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&o.logFile, "log-file", "", "also write JSON logs to this rotating file")
	pf.BoolVar(&o.progress, "progress", false, "show progress bars for storage transfers")

	root.AddCommand(
		newConnectCmd(o),
		newBackupCmd(o),
		newRestoreCmd(o),
		newUploadCmd(o),
		newDownloadCmd(o),
		newDeleteCmd(o),
		newCheckCmd(o),
		newListCmd(o),
		newListSchedulersCmd(o),
		newPauseSchedulerCmd(o),
		newResumeSchedulerCmd(o),
		newDeleteSchedulerCmd(o),
		newPauseAllCmd(o),
		newResumeAllCmd(o),
		newDaemonCmd(o),
		newDoctorCmd(o),
		newVersionCmd(o),
	)
	return root
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	if err := config.Initialize(o.configPath); err != nil {
		return err
	}
	snapshot := *config.GetConfig()
	conf := &snapshot

	flags := cmd.Flags()
	if flags.Changed("log-json") {
		conf.Log.JSON = o.logJSON
	}
	if flags.Changed("no-color") {
		conf.Log.NoColor = o.noColor
	}
	if o.logLevel != "" {
		conf.Log.Level = o.logLevel
	}
	if o.logFile != "" {
		conf.Log.File = o.logFile
	}
	if conf.Log.NoColor {
		color.NoColor = true
	}

	o.conf = conf
	o.logger = logger.New(logger.Config{
		Writer:  cmd.ErrOrStderr(),
		JSON:    conf.Log.JSON,
		NoColor: conf.Log.NoColor,
		Level:   logger.ParseLevel(conf.Log.Level),
		File:    conf.Log.File,
	})
	if o.progress {
		o.bars = storage.NewProgress(cmd.ErrOrStderr())
	}

	cmd.SetContext(logger.WithContext(cmd.Context(), o.logger))
	o.logger.Debug("Configuration loaded", "command", cmd.Name(), "scheduler_store", conf.Scheduler.Store)
	return nil
}

func (o *rootOptions) registry() *executor.Registry {
	return executor.Default(executor.Options{
		Logger:   o.logger,
		Timeout:  o.conf.Exec.Timeout,
		Cloud:    o.conf.Cloud,
		Progress: o.bars,
	})
}

// openStore opens the job store selected by scheduler.store.
func (o *rootOptions) openStore() (scheduler.Store, error) {
	switch strings.ToLower(o.conf.Scheduler.Store) {
	case "", "sqlite":
		s, err := scheduler.OpenSQLiteStore(o.conf.Scheduler.Path)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeScheduler, "cannot open job store", "Check scheduler.path and its permissions.")
		}
		return s, nil
	case "memory":
		o.logger.Warn("Using the in-memory job store: scheduled jobs are lost when this process exits")
		return scheduler.NewMemoryStore(), nil
	}
	return nil, apperrors.New(apperrors.TypeConfig,
		fmt.Sprintf("unknown scheduler store %q", o.conf.Scheduler.Store),
		"Set scheduler.store to sqlite or memory.")
}

// newEngine opens the job store and builds a scheduler engine over it.
// The caller closes the returned store.
func (o *rootOptions) newEngine() (*scheduler.Engine, scheduler.Store, error) {
	policy, err := scheduler.ParseMisfirePolicy(o.conf.Scheduler.MisfirePolicy)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.TypeConfig, "invalid scheduler configuration", "Set scheduler.misfire_policy to skip or fire_once.")
	}
	store, err := o.openStore()
	if err != nil {
		return nil, nil, err
	}
	e := scheduler.NewEngine(store, o.registry(),
		scheduler.WithLogger(o.logger.With("component", "scheduler")),
		scheduler.WithMisfirePolicy(policy),
		scheduler.WithNotifier(notify.Build(o.conf.Notifications, o.logger)),
	)
	return e, store, nil
}

// reportError prints err and its hint to stderr. Commands return nil afterwards so
// operation failures do not change the exit status.
func reportError(cmd *cobra.Command, err error) {
	printError(cmd.ErrOrStderr(), err)
	logger.FromContext(cmd.Context()).Debug("Command failed", "command", cmd.Name(), "error", err)
}

func printError(w io.Writer, err error) {
	color.New(color.FgRed, color.Bold).Fprint(w, "Error: ")
	fmt.Fprintln(w, err.Error())
	if hint := apperrors.Hint(err); hint != "" {
		color.New(color.FgYellow).Fprintf(w, "Hint: %s\n", hint)
	}
	if code, ok := apperrors.ExitCode(err); ok {
		fmt.Fprintf(w, "Tool exit code: %d\n", code)
	}
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
