package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consent-button/go-backend/internal/composition/daemon"
	"consent-button/go-backend/internal/domains/consent/model"

	"github.com/spf13/cobra"
)

func newToggleCommand() *cobra.Command {
	var (
		peer    string
		env     string
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Run one consent action and print the outcome",
		Long: `toggle connects the configured wallet (or --peer), flips the peer's consent
state for the sender identity and prints the confirmed state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if peer != "" {
				cfg.Consent.PeerAddress = peer
			}
			if env != "" {
				cfg.Consent.NetworkEnvironment = env
			}

			ctx := rootContext(cmd)
			d, err := daemon.Build(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			res, err := d.Service.Action(ctx)
			if err != nil {
				return err
			}
			if !res.Started {
				return errors.New("another action is already in flight")
			}

			out := cmd.OutOrStdout()
			if asJSON {
				payload := map[string]any{"display": res.Display}
				if res.Err != nil {
					payload["error"] = map[string]string{"kind": model.Kind(res.Err), "message": res.Err.Error()}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(payload); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, res.Display.Status)
				if res.Display.SenderAddress != "" {
					fmt.Fprintf(out, "Sender: %s\n", res.Display.SenderAddress)
				}
			}
			if res.Err != nil {
				return fmt.Errorf("consent action failed (%s): %w", model.Kind(res.Err), res.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "Peer address to toggle instead of asking the wallet")
	cmd.Flags().StringVar(&env, "env", "", "Network environment: production | dev | local")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Upper bound for the whole action")
	return cmd
}
