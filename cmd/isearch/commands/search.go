package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
	"github.com/isearch/isearch/pkg/embed"
	"github.com/isearch/isearch/pkg/rpc"
)

var (
	searchLimit  int
	searchMinSim float64
	searchImage  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <db> <query>",
	Short: "Find the most similar items",
	Long: `Find the items most similar to a query.

The query is text by default; with --image it is a path to an image file.
Results are sorted by similarity percentage, best first. When the daemon is
busy committing a batch it may reject the query; retry shortly after.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, query := args[0], args[1]

		payload := embed.Text(query)
		if searchImage {
			var err error
			payload, err = imagePayload(query)
			if err != nil {
				return err
			}
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		start := time.Now()
		matches, err := client.Search(db, payload, searchLimit, searchMinSim)
		if errors.Is(err, rpc.ErrRejected) {
			cli.PrintWarning("daemon is busy, try again shortly")
			return nil
		}
		if err != nil {
			return err
		}
		elapsed := cli.FormatDuration(time.Since(start))

		if outputJSON {
			return cli.Output(matches, outputOpts())
		}
		if len(matches) == 0 {
			fmt.Printf("no matches (%s)\n", elapsed)
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%6.1f%%  %s\n", m.Similarity, m.Label)
		}
		fmt.Println(cli.DefaultStyles.Dim.Render(fmt.Sprintf("%d matches in %s", len(matches), elapsed)))
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", 10, "maximum number of matches")
	searchCmd.Flags().Float64Var(&searchMinSim, "min-similarity", 0, "drop matches below this similarity percentage (0-100)")
	searchCmd.Flags().BoolVar(&searchImage, "image", false, "treat the query as an image file path")
}
