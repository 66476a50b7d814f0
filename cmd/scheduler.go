package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/scheduler"
)

func newListSchedulersCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-schedulers",
		Short: "Show all backup jobs with their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, err := o.newEngine()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			defer store.Close()

			jobs := engine.ListAllJobs(cmd.Context())
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No backup jobs found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "JOB NAME\tGROUP\tSTATE\tNEXT FIRE\tPREVIOUS FIRE\tLAST ERROR")
			for _, j := range jobs {
				lastErr := j.LastError
				if lastErr == "" {
					lastErr = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.Name, j.Group, j.State, fireTime(j.NextFireTime), fireTime(j.PreviousFireTime), lastErr)
			}
			return w.Flush()
		},
	}
}

func fireTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Local().Format(time.DateTime)
}

// jobFlags name one job by its key.
type jobFlags struct {
	name  string
	group string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "job-name", "j", "", "job name, e.g. backupJob_shop")
	cmd.Flags().StringVarP(&f.group, "job-group", "g", "", "job group, the database type, e.g. MYSQL")
	_ = cmd.MarkFlagRequired("job-name")
	_ = cmd.MarkFlagRequired("job-group")
}

func (f *jobFlags) key() scheduler.JobKey {
	return scheduler.JobKey{Name: f.name, Group: f.group}
}

// newJobCmd builds the pause/resume/delete commands, which differ only in the
// engine transition they call and the words they print.
func newJobCmd(o *rootOptions, action, done, short string, op func(*scheduler.Engine, *cobra.Command, scheduler.JobKey) bool) *cobra.Command {
	var jf jobFlags
	cmd := &cobra.Command{
		Use:   action + "-scheduler",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, err := o.newEngine()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			defer store.Close()

			if op(engine, cmd, jf.key()) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s job: %s (%s)\n", done, jf.name, jf.group)
			} else {
				color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "Failed to %s job: %s (%s)\n", action, jf.name, jf.group)
			}
			return nil
		},
	}
	jf.register(cmd)
	return cmd
}

func newPauseSchedulerCmd(o *rootOptions) *cobra.Command {
	return newJobCmd(o, "pause", "Paused", "Pause a backup job",
		func(e *scheduler.Engine, cmd *cobra.Command, key scheduler.JobKey) bool {
			return e.PauseJob(cmd.Context(), key)
		})
}

func newResumeSchedulerCmd(o *rootOptions) *cobra.Command {
	return newJobCmd(o, "resume", "Resumed", "Resume a paused backup job",
		func(e *scheduler.Engine, cmd *cobra.Command, key scheduler.JobKey) bool {
			return e.ResumeJob(cmd.Context(), key)
		})
}

func newDeleteSchedulerCmd(o *rootOptions) *cobra.Command {
	return newJobCmd(o, "delete", "Deleted", "Delete a backup job",
		func(e *scheduler.Engine, cmd *cobra.Command, key scheduler.JobKey) bool {
			return e.DeleteJob(cmd.Context(), key)
		})
}

func newPauseAllCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pause-all",
		Short: "Pause every backup job",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, err := o.newEngine()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			defer store.Close()

			if engine.PauseAllJobs(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), "Paused all backup jobs.")
			} else {
				color.New(color.FgRed).Fprintln(cmd.ErrOrStderr(), "Failed to pause all backup jobs.")
			}
			return nil
		},
	}
}

func newResumeAllCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume-all",
		Short: "Resume every backup job",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, err := o.newEngine()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			defer store.Close()

			if engine.ResumeAllJobs(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), "Resumed all backup jobs.")
			} else {
				color.New(color.FgRed).Fprintln(cmd.ErrOrStderr(), "Failed to resume all backup jobs.")
			}
			return nil
		},
	}
}

func newDaemonCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler and fire backup jobs until interrupted",
		Long: `Run the scheduler in the foreground. Jobs are read from the job store and
re-synced every scheduler.sync_interval, so jobs scheduled, paused, resumed or
deleted from other dbu invocations take effect without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, store, err := o.newEngine()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			defer store.Close()

			interval := o.conf.Scheduler.SyncInterval
			o.logger.Info("Scheduler daemon started",
				"store", o.conf.Scheduler.Store,
				"path", o.conf.Scheduler.Path,
				"misfire_policy", o.conf.Scheduler.MisfirePolicy,
				"sync_interval", interval.String())

			if err := engine.Run(cmd.Context(), interval); err != nil {
				reportError(cmd, err)
				return nil
			}
			o.logger.Info("Scheduler daemon stopped")
			return nil
		},
	}
}
