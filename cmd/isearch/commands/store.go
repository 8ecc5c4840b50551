package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		stores, err := client.List()
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.Output(stores, outputOpts())
		}
		if len(stores) == 0 {
			fmt.Println("no stores")
			return nil
		}
		for _, name := range stores {
			fmt.Println(name)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <db>",
	Short: "Show store metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		info, err := client.Info(args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.Output(info, outputOpts())
		}

		fmt.Println(cli.StatusLine("name", info.Name))
		fmt.Println(cli.StatusLine("size", fmt.Sprintf("%d", info.Size)))
		fmt.Println(cli.StatusLine("capacity", fmt.Sprintf("%d", info.Capacity)))
		fmt.Println(cli.StatusLine("dimension", fmt.Sprintf("%d", info.Dim)))
		if size, ok := storeDiskSize(info.Name); ok {
			fmt.Println(cli.StatusLine("on disk", cli.FormatBytes(size)))
		}
		return nil
	},
}

// storeDiskSize sums the store's snapshot files under the context base dir.
func storeDiskSize(name string) (int64, bool) {
	ctx, err := currentContext()
	if err != nil {
		return 0, false
	}
	base, err := ctx.ResolveBaseDir()
	if err != nil {
		return 0, false
	}
	var total int64
	for _, file := range []string{"index.db", "mapping.db"} {
		st, err := os.Stat(filepath.Join(base, name, file))
		if err != nil {
			return 0, false
		}
		total += st.Size()
	}
	return total, true
}

var hasCmd = &cobra.Command{
	Use:   "has <db> <label> [label ...]",
	Short: "Check whether labels exist in a store",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		labels := args[1:]
		present, err := client.Has(args[0], labels)
		if err != nil {
			return err
		}
		if outputJSON {
			result := make(map[string]bool, len(labels))
			for i, label := range labels {
				result[label] = present[i]
			}
			return cli.Output(result, outputOpts())
		}
		for i, label := range labels {
			mark := cli.DefaultStyles.Error.Render("✗")
			if present[i] {
				mark = cli.DefaultStyles.Success.Render("✓")
			}
			fmt.Printf("%s %s\n", mark, label)
		}
		return nil
	},
}
