package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
	"github.com/isearch/isearch/pkg/rpc"
)

var (
	// Global flags
	cfgFile     string
	contextName string
	outputJSON  bool
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "isearch",
	Short: "Local similarity search service",
	Long: `isearch - a local similarity search service.

The daemon keeps named vector stores on disk and answers approximate
nearest-neighbor queries over embedded text and images. The CLI talks to it
over a unix socket (or loopback TCP).

Configuration is stored in ~/.isearch/config.yaml and supports multiple
contexts, similar to kubectl's context management.

Examples:
  # Start the daemon with defaults
  isearch server run

  # Ingest and query
  isearch add docs report="quarterly revenue grew 4%"
  isearch search docs "revenue growth" --limit 5

  # Pipe output to another command
  isearch info docs --json | jq '.size'
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.isearch/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(hasCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads the CLI configuration before any command runs.
func initConfig() {
	cfg, err := cli.LoadConfigWithPath(cfgFile)
	if err != nil {
		cli.PrintError("load config: %v", err)
		return
	}
	globalConfig = cfg
}

// currentContext resolves the context selected by the -c flag.
func currentContext() (*cli.Context, error) {
	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return globalConfig.ResolveContext(contextName)
}

// dialDaemon connects to the context's daemon.
func dialDaemon() (*rpc.Client, error) {
	ctx, err := currentContext()
	if err != nil {
		return nil, err
	}
	bind, err := ctx.ResolveBind()
	if err != nil {
		return nil, err
	}
	client, err := rpc.Dial(bind)
	if err != nil {
		return nil, fmt.Errorf("cannot reach daemon at %s (is it running? try `isearch server run`): %w", bind, err)
	}
	return client, nil
}

// outputOpts maps the global --json flag to output options.
func outputOpts() cli.OutputOptions {
	if outputJSON {
		return cli.OutputOptions{Format: cli.FormatJSON}
	}
	return cli.OutputOptions{Format: cli.FormatYAML}
}
