package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orbis/fab/internal/fab"
	"github.com/orbis/fab/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fabd HTTP server",
	Long:  "Serve the per-session control loop over HTTP until interrupted.",
	Example: `
# Serve with defaults on :8337
fabd serve

# Serve with a config file
fabd serve --config fab.yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Log)

		ctx, cancel := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer cancel()

		registry := server.NewRegistry(func(id string, seed int64) (*fab.Core, error) {
			session := cfg.SessionConfig(id, seed)
			session.Logger = logger
			return fab.New(session, nil)
		})

		return server.New(cfg.Server, registry, logger).Start(ctx)
	},
}
