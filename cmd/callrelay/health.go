package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"callrelay/internal/app"
	"callrelay/internal/relay"
)

func healthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check bot credentials and store reachability",
		Long: `Check bot credentials and store reachability without starting the relay.

Exits non-zero when the relay is degraded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			h, err := app.Probe(ctx, cfgPath)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(h, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if h.Status == relay.HealthDegraded {
				return fmt.Errorf("relay degraded")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall probe timeout")
	return cmd
}
