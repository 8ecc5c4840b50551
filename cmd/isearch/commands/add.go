package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
	"github.com/isearch/isearch/pkg/embed"
)

var (
	addImage bool
	addFile  string
)

// addRequest is the request file shape for batch ingestion.
type addRequest struct {
	Items  map[string]string `yaml:"items" json:"items"`   // label -> text
	Images map[string]string `yaml:"images" json:"images"` // label -> image file path
}

var addCmd = &cobra.Command{
	Use:   "add <db> [label=value ...]",
	Short: "Queue items for ingestion",
	Long: `Queue items for ingestion into a store.

Each argument is a label=value pair. Values are text by default; with
--image each value is a path to an image file. Large batches can be loaded
from a YAML/JSON file instead:

  items:
    report-2026: "quarterly revenue grew 4%"
  images:
    logo: ./assets/logo.png

Items are embedded and committed in the background; the command reports how
many were accepted into the queue.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db := args[0]

		items := make(map[string]embed.Payload)
		for _, arg := range args[1:] {
			label, value, ok := strings.Cut(arg, "=")
			if !ok || label == "" {
				return fmt.Errorf("argument %q is not label=value", arg)
			}
			if addImage {
				payload, err := imagePayload(value)
				if err != nil {
					return err
				}
				items[label] = payload
			} else {
				items[label] = embed.Text(value)
			}
		}

		if addFile != "" {
			var req addRequest
			if err := cli.LoadRequest(addFile, &req); err != nil {
				return err
			}
			for label, text := range req.Items {
				items[label] = embed.Text(text)
			}
			for label, path := range req.Images {
				payload, err := imagePayload(path)
				if err != nil {
					return err
				}
				items[label] = payload
			}
		}

		if len(items) == 0 {
			return fmt.Errorf("nothing to add")
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		accepted, err := client.Add(db, items)
		if err != nil {
			return err
		}
		if accepted < len(items) {
			cli.PrintWarning("queue full: accepted %d of %d items, retry the rest", accepted, len(items))
			return nil
		}
		cli.PrintSuccess("queued %d items for %s", accepted, db)
		return nil
	},
}

func imagePayload(path string) (embed.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return embed.Payload{}, fmt.Errorf("read image %s: %w", path, err)
	}
	return embed.Image(data), nil
}

func init() {
	addCmd.Flags().BoolVar(&addImage, "image", false, "treat values as image file paths")
	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "load items from a YAML/JSON file")
}
