package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
)

var (
	ctxBaseDir   string
	ctxBind      string
	ctxBatchSize int
	ctxProvider  string
	ctxModel     string
	ctxAPIKey    string
	ctxURL       string
	ctxDimension int
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage daemon contexts",
	Long: `Manage daemon contexts, similar to kubectl's context management.

A context names a daemon: its data directory, bind address, and embedder.
The current context is used by every command unless -c overrides it.`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		ctx := &cli.Context{
			BaseDir:   ctxBaseDir,
			Bind:      ctxBind,
			BatchSize: ctxBatchSize,
			Embedder: cli.EmbedderConfig{
				Provider:  ctxProvider,
				Model:     ctxModel,
				APIKey:    ctxAPIKey,
				URL:       ctxURL,
				Dimension: ctxDimension,
			},
		}
		if err := globalConfig.AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess("added context %q", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := globalConfig.UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("switched to context %q", args[0])
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := globalConfig.DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("deleted context %q", args[0])
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:   "list-contexts",
	Short: "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := globalConfig.ListContexts()
		sort.Strings(names)
		if len(names) == 0 {
			fmt.Println("no contexts configured")
			return nil
		}
		for _, name := range names {
			marker := "  "
			if name == globalConfig.CurrentContext {
				marker = cli.DefaultStyles.Success.Render("* ")
			}
			fmt.Printf("%s%s\n", marker, name)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a context (current by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		ctx, err := globalConfig.ResolveContext(name)
		if err != nil {
			return err
		}

		shown := *ctx
		shown.Embedder.APIKey = cli.MaskAPIKey(shown.Embedder.APIKey)
		return cli.Output(shown, outputOpts())
	},
}

func init() {
	configAddContextCmd.Flags().StringVar(&ctxBaseDir, "base-dir", "", "daemon data directory")
	configAddContextCmd.Flags().StringVar(&ctxBind, "bind", "", "daemon address: socket path or host:port")
	configAddContextCmd.Flags().IntVar(&ctxBatchSize, "batch-size", 0, "ingestion batch size")
	configAddContextCmd.Flags().StringVar(&ctxProvider, "provider", "", "embedder provider: openai, dashscope, remote, static")
	configAddContextCmd.Flags().StringVar(&ctxModel, "model", "", "embedding model name")
	configAddContextCmd.Flags().StringVar(&ctxAPIKey, "api-key", "", "embedder API key")
	configAddContextCmd.Flags().StringVar(&ctxURL, "url", "", "remote embedder URL")
	configAddContextCmd.Flags().IntVar(&ctxDimension, "dimension", 0, "vector dimensionality")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configShowCmd)
}
