package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/executor"
	"github.com/lupppig/dbu/internal/storage"
)

// withProvider resolves the provider named by sf, hands it to fn and closes it.
func (o *rootOptions) withProvider(ctx context.Context, sf *storageFlags, fn func(storage.Provider) error) error {
	t, err := sf.parse()
	if err != nil {
		return err
	}
	factory, ok := o.registry().Storage(t)
	if !ok {
		return executor.NotFound(executor.Storage, t.Tag())
	}
	p, err := factory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			o.logger.Warn("Closing storage provider failed", "storage", t, "error", cerr)
		}
	}()
	return fn(p)
}

func newUploadCmd(o *rootOptions) *cobra.Command {
	var (
		sf       storageFlags
		filePath string
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a local file to cloud or remote storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := o.withProvider(cmd.Context(), &sf, func(p storage.Provider) error {
				o.logger.Info("Uploading file", "storage", sf.storageType, "key", sf.key, "file", filePath)
				url, err := p.Upload(cmd.Context(), sf.key, filePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Upload successful! URL: %s\n", url)
				return nil
			})
			if err != nil {
				reportError(cmd, err)
			}
			return nil
		},
	}
	sf.register(cmd, true)
	cmd.Flags().StringVarP(&filePath, "file-path", "f", "", "local file to upload")
	_ = cmd.MarkFlagRequired("file-path")
	return cmd
}

func newDownloadCmd(o *rootOptions) *cobra.Command {
	var (
		sf          storageFlags
		destination string
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download an object from cloud or remote storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := o.withProvider(cmd.Context(), &sf, func(p storage.Provider) error {
				o.logger.Info("Downloading file", "storage", sf.storageType, "key", sf.key, "destination", destination)
				path, err := p.Download(cmd.Context(), sf.key, destination)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Download successful! Saved to: %s\n", path)
				return nil
			})
			if err != nil {
				reportError(cmd, err)
			}
			return nil
		},
	}
	sf.register(cmd, true)
	cmd.Flags().StringVarP(&destination, "destination", "d", ".", "local file or directory to write to")
	return cmd
}

func newDeleteCmd(o *rootOptions) *cobra.Command {
	var sf storageFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an object from cloud or remote storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := o.withProvider(cmd.Context(), &sf, func(p storage.Provider) error {
				deleted, err := p.Delete(cmd.Context(), sf.key)
				if err != nil {
					return err
				}
				if deleted {
					fmt.Fprintln(cmd.OutOrStdout(), "File deleted successfully.")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "File deletion not confirmed.")
				}
				return nil
			})
			if err != nil {
				reportError(cmd, err)
			}
			return nil
		},
	}
	sf.register(cmd, true)
	return cmd
}

func newCheckCmd(o *rootOptions) *cobra.Command {
	var sf storageFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether an object exists in storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := o.withProvider(cmd.Context(), &sf, func(p storage.Provider) error {
				fmt.Fprintf(cmd.OutOrStdout(), "File exists: %t\n", p.Exists(cmd.Context(), sf.key))
				return nil
			})
			if err != nil {
				reportError(cmd, err)
			}
			return nil
		},
	}
	sf.register(cmd, true)
	return cmd
}

func newListCmd(o *rootOptions) *cobra.Command {
	var sf storageFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the objects in storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := o.withProvider(cmd.Context(), &sf, func(p storage.Provider) error {
				files := p.ListFiles(cmd.Context())
				out := cmd.OutOrStdout()
				if len(files) == 0 {
					fmt.Fprintln(out, "No files found in storage.")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "FILE NAME\tSIZE\tLAST MODIFIED\tAGE")
				for _, f := range files {
					modified, age := "N/A", ""
					if f.LastModified != nil {
						modified = f.LastModified.Local().Format(time.DateTime)
						age = humanize.Time(*f.LastModified)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Key, humanize.IBytes(uint64(f.Size)), modified, age)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Total: %d file(s)\n", len(files))
				return nil
			})
			if err != nil {
				reportError(cmd, err)
			}
			return nil
		},
	}
	sf.register(cmd, false)
	return cmd
}
