package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"postvault/internal/api"
	"postvault/pkg/logger"
	"postvault/pkg/store"
)

var serveAddr string

// serveCmd runs the REST surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Long: `Serve the REST API over the archive.

Extraction and classification run as asynchronous jobs polled by id;
one extraction per platform runs at a time. Serve mode is
non-interactive, so extraction relies on cached sessions - log in once
with the CLI first.

When a config file is in use it is watched for changes and reloaded,
so classifier settings can be adjusted without a restart.`,
	Example: `  postvault serve
  postvault serve --addr :9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :8974)")
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{"addr": serveAddr}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer st.Close()

	server := api.NewServer(cfg, st, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if configFile != "" {
		watchFlags := globalFlags()
		for k, v := range flags {
			watchFlags[k] = v
		}
		g.Go(func() error {
			return server.WatchConfig(gctx, configFile, watchFlags)
		})
	}

	return g.Wait()
}
