package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
	"github.com/isearch/isearch/pkg/embed"
)

var compareImage bool

var compareCmd = &cobra.Command{
	Use:   "compare <a> <b>",
	Short: "Compare the similarity of two inputs",
	Long: `Embed two inputs and print their similarity percentage without touching
any store. With --image both arguments are image file paths.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := embed.Text(args[0])
		b := embed.Text(args[1])
		if compareImage {
			var err error
			if a, err = imagePayload(args[0]); err != nil {
				return err
			}
			if b, err = imagePayload(args[1]); err != nil {
				return err
			}
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		sim, err := client.Compare(a, b)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.Output(map[string]float64{"similarity": sim}, outputOpts())
		}
		fmt.Printf("%.1f%%\n", sim)
		return nil
	},
}

func init() {
	compareCmd.Flags().BoolVar(&compareImage, "image", false, "treat both arguments as image file paths")
}
