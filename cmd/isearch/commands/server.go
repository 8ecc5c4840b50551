package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/isearch/isearch/pkg/cli"
	"github.com/isearch/isearch/pkg/daemon"
	"github.com/isearch/isearch/pkg/rpc"
	"github.com/isearch/isearch/pkg/service"
	"github.com/isearch/isearch/pkg/storage"
)

var (
	serverBind      string
	serverBaseDir   string
	serverLogLevel  string
	serverBatchSize int
)

// shutdownTimeout bounds draining the pipeline and flushing stores.
const shutdownTimeout = 30 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the isearch daemon",
}

var serverRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Run the isearch daemon in the foreground.

The daemon listens on a unix socket under the data directory by default;
pass --bind host:port for loopback TCP instead. SIGINT/SIGTERM shut it down
cleanly: the listener closes, queued items are flushed, and every open
store is persisted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir, err := resolveBaseDir()
		if err != nil {
			return err
		}
		pid, err := daemon.Stop(baseDir)
		if errors.Is(err, daemon.ErrNotRunning) {
			cli.PrintWarning("daemon is not running")
			return nil
		}
		if err != nil {
			return err
		}
		cli.PrintSuccess("sent SIGTERM to pid %d", pid)
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir, err := resolveBaseDir()
		if err != nil {
			return err
		}

		pid, err := daemon.Status(baseDir)
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Println(cli.StatusLine("status", cli.DefaultStyles.Error.Render("stopped")))
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Println(cli.StatusLine("status", cli.DefaultStyles.Success.Render("running")))
		fmt.Println(cli.StatusLine("pid", fmt.Sprintf("%d", pid)))
		fmt.Println(cli.StatusLine("base dir", baseDir))

		if client, err := dialDaemon(); err == nil {
			defer client.Close()
			if ping, err := client.Ping(); err == nil {
				fmt.Println(cli.StatusLine("pending", fmt.Sprintf("%d", ping.Pending)))
			}
			if stores, err := client.List(); err == nil {
				fmt.Println(cli.StatusLine("stores", fmt.Sprintf("%d", len(stores))))
			}
		}
		return nil
	},
}

func init() {
	serverRunCmd.Flags().StringVar(&serverBind, "bind", "", "listen address: unix socket path or host:port (default <base-dir>/isearch.sock)")
	serverRunCmd.Flags().StringVar(&serverBaseDir, "base-dir", "", "data directory (default ~/.isearch/data)")
	serverRunCmd.Flags().StringVar(&serverLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	serverRunCmd.Flags().IntVar(&serverBatchSize, "batch-size", 0, "ingestion batch size (default 32)")

	serverCmd.AddCommand(serverRunCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)
}

// resolveBaseDir picks the data dir from the flag or the context.
func resolveBaseDir() (string, error) {
	if serverBaseDir != "" {
		return serverBaseDir, nil
	}
	ctx, err := currentContext()
	if err != nil {
		return "", err
	}
	return ctx.ResolveBaseDir()
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	ctxCfg, err := currentContext()
	if err != nil {
		return err
	}

	baseDir, err := resolveBaseDir()
	if err != nil {
		return err
	}
	bind := serverBind
	if bind == "" {
		if ctxCfg.Bind != "" {
			bind = ctxCfg.Bind
		} else {
			bind, err = ctxCfg.ResolveBind()
			if err != nil {
				return err
			}
		}
	}

	level := parseLogLevel(serverLogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("create base dir: %w", err)
	}
	if err := daemon.WritePid(baseDir); err != nil {
		return err
	}
	defer daemon.RemovePid(baseDir)

	fs, err := storage.NewLocal(baseDir)
	if err != nil {
		return err
	}
	embedder, err := buildEmbedder(ctxCfg.Embedder, logger)
	if err != nil {
		return err
	}

	batchSize := serverBatchSize
	if batchSize == 0 {
		batchSize = ctxCfg.BatchSize
	}
	svcOpts := []service.Option{service.WithLogger(logger)}
	if batchSize > 0 {
		svcOpts = append(svcOpts, service.WithBatchSize(batchSize))
	}
	svc := service.New(fs, embedder, svcOpts...)

	srv := rpc.NewServer(svc, logger)
	if err := srv.Listen(bind); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	logger.Info("daemon started",
		"bind", bind,
		"base_dir", baseDir,
		"pid", os.Getpid(),
		"embedder", fmt.Sprintf("%T", embedder),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case err := <-serveErr:
		if err != nil && !errors.Is(err, rpc.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}

	// Stop accepting, then drain and persist.
	if err := srv.Close(); err != nil {
		logger.Error("listener close failed", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("shutdown flush failed", "error", err)
		return err
	}
	logger.Info("daemon stopped")
	return nil
}
