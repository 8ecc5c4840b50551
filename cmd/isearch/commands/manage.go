package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
)

var (
	deleteRebuild bool
	deleteKeys    []uint32
)

var clearCmd = &cobra.Command{
	Use:   "clear <db>",
	Short: "Remove every item from a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Clear(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("cleared %s", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <db> [label ...]",
	Short: "Remove items by label or key",
	Long: `Remove items from a store by label, or by numeric key with --key.

Deleted slots are reused by later inserts. Pass --rebuild to rebuild the
index afterwards; that compacts keys and restores graph quality after many
deletions, at the cost of reindexing every remaining item.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels := args[1:]
		if len(labels) == 0 && len(deleteKeys) == 0 {
			return fmt.Errorf("nothing to delete: give labels or --key")
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Delete(args[0], labels, deleteKeys, deleteRebuild); err != nil {
			return err
		}
		cli.PrintSuccess("deleted %d items from %s", len(labels)+len(deleteKeys), args[0])
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <db>",
	Short: "Delete a store and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Drop(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("dropped %s", args[0])
		return nil
	},
}

// uint32SliceFlag parses repeated --key values.
type uint32SliceFlag struct {
	values *[]uint32
}

func (f *uint32SliceFlag) String() string { return fmt.Sprint(*f.values) }
func (f *uint32SliceFlag) Type() string   { return "uint32" }
func (f *uint32SliceFlag) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid key %q", s)
	}
	*f.values = append(*f.values, uint32(v))
	return nil
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteRebuild, "rebuild", false, "rebuild the index after deleting")
	deleteCmd.Flags().Var(&uint32SliceFlag{&deleteKeys}, "key", "delete by numeric key (repeatable)")
}
