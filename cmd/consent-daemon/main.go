package main

import (
	"fmt"
	"log/slog"
	"os"

	"consent-button/go-backend/internal/app"
	"consent-button/go-backend/internal/config"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "consent-daemon",
		Short: "Consent button backend",
		Long: `consent-daemon toggles the consent state of a wallet address on the Waku
network and serves the consent button over JSON-RPC.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug | info | warn | error")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newToggleCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newDoctorCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// loadConfig layers CLI flags over config.Load.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "consent-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		},
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return app.NewLogger(os.Stderr, cfg.Log.Level)
}
