package main

import (
	"encoding/json"
	"fmt"

	"consent-button/go-backend/internal/platform/eventsink"

	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	var count int64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print recent consent events mirrored to Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := rootContext(cmd)
			sink, err := eventsink.NewRedis(ctx, eventsink.Config{Addr: cfg.Redis.Addr, Stream: cfg.Redis.Stream})
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			entries, err := sink.Recent(ctx, count)
			if err != nil {
				return fmt.Errorf("read %s: %w", sink.Stream(), err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&count, "count", 20, "Number of newest events to print")
	return cmd
}
