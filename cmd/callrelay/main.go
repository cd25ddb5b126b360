// callrelay relays queued call notifications from the call platform's store
// to a Telegram chat.
//
// Usage:
//
//	callrelay serve --config ./config.json
//	callrelay health
//	callrelay enqueue --call-id c-1 --type call_no_answer --ring-duration 12
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"callrelay/internal/config"
)

var (
	version = "dev"

	cfgPath string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "callrelay",
		Short:         "Relay call status notifications to Telegram",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
		RunE: runServe,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config (missing is fine)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(enqueueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
