package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/storage"
)

// toolGroups lists the native binaries each engine's dump and restore commands run.
var toolGroups = []struct {
	name     string
	binaries []string
}{
	{"MySQL", []string{"mysqldump", "mysql"}},
	{"PostgreSQL", []string{"pg_dump", "psql"}},
	{"MongoDB", []string{"mongodump", "mongorestore"}},
	{"SQLite", []string{"sqlite3"}},
}

func newDoctorCmd(o *rootOptions) *cobra.Command {
	var storages []string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that native tools are installed and storage is reachable",
		Long: `Verify that the dump and restore tools for every engine are on PATH.

With --storage, each named provider is also checked by uploading, finding and
deleting a small probe object.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			o.logger.Info("dbu doctor - system environment check", "os", runtime.GOOS, "arch", runtime.GOARCH)

			missing := 0
			for _, group := range toolGroups {
				fmt.Fprintf(out, "[%s]\n", group.name)
				for _, bin := range group.binaries {
					path, err := exec.LookPath(bin)
					if err != nil {
						fmt.Fprintf(out, "  [ ] %-14s NOT FOUND\n", bin)
						missing++
						continue
					}
					fmt.Fprintf(out, "  [x] %-14s %s\n", bin, path)
				}
				fmt.Fprintln(out)
			}
			if missing == 0 {
				fmt.Fprintln(out, "Result: all database tools found.")
			} else {
				fmt.Fprintf(out, "Result: %d tool(s) missing. Install the tools for the engines you back up.\n", missing)
			}

			for _, s := range storages {
				o.checkStorage(cmd, s)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&storages, "storage", "s", nil, "storage types to probe (repeatable)")
	return cmd
}

// checkStorage round-trips a probe object through one provider.
func (o *rootOptions) checkStorage(cmd *cobra.Command, name string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n[Storage %s]\n", name)

	probe, err := os.CreateTemp("", "dbu-doctor-*")
	if err != nil {
		fmt.Fprintf(out, "  [ ] probe file: FAILED (%v)\n", err)
		return
	}
	defer os.Remove(probe.Name())
	fmt.Fprint(probe, "ok")
	probe.Close()

	key := ".dbu-doctor/" + uuid.NewString() + filepath.Ext(probe.Name())
	sf := storageFlags{storageType: name}
	start := time.Now()

	err = o.withProvider(cmd.Context(), &sf, func(p storage.Provider) error {
		if _, err := p.Upload(cmd.Context(), key, probe.Name()); err != nil {
			return err
		}
		if !p.Exists(cmd.Context(), key) {
			return fmt.Errorf("uploaded probe %s is not visible", key)
		}
		_, err := p.Delete(cmd.Context(), key)
		return err
	})
	if err != nil {
		fmt.Fprintf(out, "  [ ] read/write: FAILED\n")
		printError(cmd.ErrOrStderr(), err)
		return
	}
	fmt.Fprintf(out, "  [x] read/write: OK (%s)\n", time.Since(start).Truncate(time.Millisecond))
}
