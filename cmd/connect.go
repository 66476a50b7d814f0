package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/executor"
)

func newConnectCmd(o *rootOptions) *cobra.Command {
	var cf connFlags

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Check that a database is reachable with the given credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := cf.params()
			if err != nil {
				reportError(cmd, err)
				return nil
			}
			o.logger.Info("Connecting to database", "engine", conn.Type.Tag(), "db", conn.DBName)

			c, ok := o.registry().Connect(conn.Type)
			if !ok {
				reportError(cmd, executor.NotFound(executor.Connect, string(conn.Type)))
				return nil
			}
			if err := c.TestConnection(cmd.Context(), conn); err != nil {
				reportError(cmd, err)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Successfully connected to database: %s [%s]\n", conn.DBName, conn.Type)
			return nil
		},
	}
	cf.register(cmd)
	return cmd
}
