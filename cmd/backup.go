package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/backup"
	"github.com/lupppig/dbu/internal/compress"
	"github.com/lupppig/dbu/internal/executor"
)

func newBackupCmd(o *rootOptions) *cobra.Command {
	var (
		cf          connFlags
		compression string
		output      string
		cronExpr    string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up a database, optionally scheduling it to recur",
		Long: `Run the engine's dump tool and write the result to --output.

A directory output (or one ending in a separator) gets a generated name
backup_<database>_<timestamp>. With --compress the dump is packed as GZIP, ZIP,
TARGZ, LZ4 or ZSTD. When --cron is set, the same configuration is stored as a
recurring job after the immediate backup succeeds; run "dbu daemon" to fire it.`,
		Example: `  dbu backup -t POSTGRESQL -d shop -u admin -w secret -c GZIP -o /backups/
  dbu backup -t SQLITE -d ./app.db -o ./app.bak
  dbu backup -t MONGODB -d logs -C "0 0 2 * * ?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := cf.params()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			kind, err := compress.ParseKind(compression)
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			cfg := backup.Config{
				Conn:        conn,
				Destination: output,
				Compression: kind,
				Cron:        cronExpr,
			}

			reg := o.registry()
			b, ok := reg.Backup(conn.Type)
			if !ok {
				reportError(cmd, executor.NotFound(executor.Backup, string(conn.Type)))
				return nil
			}

			o.logger.Info("Received backup command", "engine", conn.Type.Tag(), "db", conn.DBName)
			out, err := b.Backup(cmd.Context(), cfg)
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database backup completed successfully: %s\n", out)

			if cronExpr == "" {
				return nil
			}
			engine, store, err := o.newEngine()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			defer store.Close()

			key, err := engine.ScheduleJob(cmd.Context(), cfg)
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Backup schedule created successfully. The database will be backed up according to the cron schedule: %s (job %s)\n",
				cronExpr, key)
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVarP(&compression, "compress", "c", string(compress.None), "compression ("+kindList()+")")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default: current directory)")
	cmd.Flags().StringVarP(&cronExpr, "cron", "C", "", "also schedule this backup with a cron expression, e.g. \"0 0 * * * ?\"")
	return cmd
}

func kindList() string {
	names := make([]string, 0, len(compress.Kinds()))
	for _, k := range compress.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}
