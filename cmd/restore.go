package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/backup"
	"github.com/lupppig/dbu/internal/executor"
)

func newRestoreCmd(o *rootOptions) *cobra.Command {
	var (
		cf    connFlags
		input string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a database from a backup file",
		Long: `Load a backup into the target database with the engine's restore tool.

Compressed backups (.gz, .gzip, .zip, .tar.gz, .lz4, .zst) are unpacked next to
the input first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := cf.params()
			if err != nil {
				reportError(cmd, err)
				return nil
			}

			r, ok := o.registry().Restore(conn.Type)
			if !ok {
				reportError(cmd, executor.NotFound(executor.Restore, string(conn.Type)))
				return nil
			}

			o.logger.Info("Received restore command", "engine", conn.Type.Tag(), "db", conn.DBName, "input", input)
			done, err := r.Restore(cmd.Context(), backup.RestoreConfig{Conn: conn, Source: input})
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			if !done {
				fmt.Fprintln(cmd.ErrOrStderr(), "Restore finished without confirmation from the restore tool.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database restore successful.")
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVarP(&input, "input-path", "i", "", "backup file to restore")
	_ = cmd.MarkFlagRequired("input-path")
	return cmd
}
