package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"callrelay/internal/app"
	"callrelay/internal/storage"
	"callrelay/pkg/logx"
)

func enqueueCmd() *cobra.Command {
	var (
		n            storage.Notification
		ringDuration int
		duration     int
		details      string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a notification in the configured store",
		Long: `Queue a notification in the configured store, as the call platform would.

Examples:
  callrelay enqueue --call-id c-1 --type call_ringing
  callrelay enqueue --call-id c-1 --type call_completed --duration 125
  callrelay enqueue --call-id c-1 --type call_failed --error "carrier rejected"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n.CallID == "" || n.Type == "" {
				return fmt.Errorf("--call-id and --type are required")
			}
			if cmd.Flags().Changed("ring-duration") {
				n.RingDuration = &ringDuration
			}
			if cmd.Flags().Changed("duration") {
				n.Duration = &duration
			}
			if details != "" {
				if err := json.Unmarshal([]byte(details), &n.Details); err != nil {
					return fmt.Errorf("--details: %w", err)
				}
			}

			st, err := app.OpenStore(cfgPath, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			id, err := st.Enqueue(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&n.CallID, "call-id", "", "call identifier")
	f.StringVar(&n.Type, "type", "", "notification type, e.g. call_ringing")
	f.StringVar(&n.Destination, "destination", "", "chat id; empty means the default chat")
	f.StringVar(&n.ErrorMessage, "error", "", "error message for call_failed")
	f.IntVar(&ringDuration, "ring-duration", 0, "ring duration in seconds")
	f.IntVar(&duration, "duration", 0, "call duration in seconds")
	f.StringVar(&details, "details", "", "JSON object with extra details")
	return cmd
}
