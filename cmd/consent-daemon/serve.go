package main

import (
	"context"
	"os/signal"
	"syscall"

	"consent-button/go-backend/internal/composition/daemon"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var (
		rpcAddr   string
		rpcToken  string
		transport string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if rpcAddr != "" {
				cfg.RPC.Addr = rpcAddr
			}
			if rpcToken != "" {
				cfg.RPC.Token = rpcToken
			}
			if transport != "" {
				cfg.Network.Transport = transport
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := daemon.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("consent daemon starting",
				"component", "daemon",
				"operation", "serve",
				"version", version,
				"environment", cfg.Consent.NetworkEnvironment,
				"transport", cfg.Network.Transport,
			)
			err = d.Run(ctx)
			logger.Info("consent daemon stopped", "component", "daemon", "operation", "serve")
			return err
		},
	}
	cmd.Flags().StringVar(&rpcAddr, "rpc-addr", "", "JSON-RPC listen address")
	cmd.Flags().StringVar(&rpcToken, "rpc-token", "", "Bearer token required on /rpc (optional)")
	cmd.Flags().StringVar(&transport, "transport", "", "Network transport override: go-waku | mock")
	return cmd
}

// rootContext is used when a command runs outside Execute, as in tests.
func rootContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
