package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/daemon"
)

var serveConfig string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session manager daemon",
	Long: `Run the daemon in the foreground: the HTTP API, output monitors,
message queue workers, and the parent wake scheduler. Equivalent to the
standalone smd binary.

Examples:
  sm serve
  sm serve --config ~/.config/sm/config.toml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "config file path (default: "+config.EnvConfig+" or ~/.config/sm/config.toml)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := serveConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return daemon.Run(ctx, cfg, log)
}
