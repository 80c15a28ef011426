package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"consent-button/go-backend/internal/nodeagent"

	"github.com/spf13/cobra"
)

func newDoctorCommand() *cobra.Command {
	var (
		probe   bool
		asJSON  bool
		rpcAddr string
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the configuration can serve consent actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if rpcAddr != "" {
				cfg.RPC.Addr = rpcAddr
			}
			report, err := nodeagent.New().Doctor(rootContext(cmd), nodeagent.DoctorInput{Config: cfg, Probe: probe})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				for _, check := range report.Checks {
					mark := "ok"
					if !check.Pass {
						mark = "FAIL"
					}
					if check.Reason != "" {
						fmt.Fprintf(out, "%-4s %s: %s\n", mark, check.Name, check.Reason)
					} else {
						fmt.Fprintf(out, "%-4s %s\n", mark, check.Name)
					}
				}
				if report.Daemon != nil {
					fmt.Fprintf(out, "daemon: %s (phase %s)\n", report.Daemon.Status, report.Daemon.Phase)
				}
			}
			if !report.Ready {
				return errors.New("configuration is not ready")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Query a running daemon instead of checking the rpc port is free")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&rpcAddr, "rpc-addr", "", "RPC address override")
	return cmd
}
