package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "danmaku",
		Short: "Watch live danmaku from a streaming room",
		Long: `danmaku connects to the live chat server of a room over WebSocket or
raw TCP, keeps the connection alive and prints every event it receives.

Settings come from flags, DANMAKU_* environment variables, an optional
.env file and an optional YAML config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addConfigFlags(cmd)
	cmd.AddCommand(
		watchCmd(),
		onlineCmd(),
		versionCmd(),
	)
	return cmd
}
