package commands

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
	"github.com/isearch/isearch/pkg/daemon"
	"github.com/isearch/isearch/pkg/storage"
)

var (
	backupTo    string
	restoreFrom string
)

// storeFiles are the snapshot artifacts copied per store.
var storeFiles = []string{"index.db", "mapping.db"}

var backupCmd = &cobra.Command{
	Use:   "backup <db>",
	Short: "Copy a store's snapshot files to a directory or S3",
	Long: `Copy a store's snapshot files (index.db and mapping.db) to another
location. The destination is a local directory or an s3://bucket/prefix URL;
S3 credentials come from the usual AWS environment.

The copy reflects the last persisted state. Stop the daemon first, or run a
flush, for a point-in-time backup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if backupTo == "" {
			return fmt.Errorf("--to is required")
		}
		return copyStore(cmd.Context(), args[0], backupTo, true)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <db>",
	Short: "Restore a store's snapshot files from a directory or S3",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreFrom == "" {
			return fmt.Errorf("--from is required")
		}

		baseDir, err := resolveBaseDir()
		if err == nil {
			if _, statusErr := daemon.Status(baseDir); statusErr == nil {
				cli.PrintWarning("daemon is running; restart it to pick up the restored store")
			}
		}
		return copyStore(cmd.Context(), args[0], restoreFrom, false)
	},
}

// copyStore moves both snapshot files between the context's data dir and a
// backup target. backup=true copies out, false copies in.
func copyStore(ctx context.Context, db, target string, backup bool) error {
	baseDir, err := resolveBaseDir()
	if err != nil {
		return err
	}
	local, err := storage.NewLocal(baseDir)
	if err != nil {
		return err
	}
	remote, err := openTarget(ctx, target)
	if err != nil {
		return err
	}

	src, dst := storage.FileStore(local), remote
	if !backup {
		src, dst = remote, storage.FileStore(local)
	}

	for _, file := range storeFiles {
		path := db + "/" + file
		if err := storage.Copy(ctx, dst, src, path); err != nil {
			return fmt.Errorf("copy %s: %w", path, err)
		}
	}

	if backup {
		cli.PrintSuccess("backed up %s to %s", db, target)
	} else {
		cli.PrintSuccess("restored %s from %s", db, target)
	}
	return nil
}

// openTarget resolves a backup target: s3://bucket/prefix or a local dir.
func openTarget(ctx context.Context, target string) (storage.FileStore, error) {
	if after, ok := strings.CutPrefix(target, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(after, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid S3 target %q", target)
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return storage.NewS3(s3.NewFromConfig(cfg), bucket, prefix), nil
	}
	return storage.NewLocal(target)
}

func init() {
	backupCmd.Flags().StringVar(&backupTo, "to", "", "destination: directory or s3://bucket/prefix")
	restoreCmd.Flags().StringVar(&restoreFrom, "from", "", "source: directory or s3://bucket/prefix")
}
