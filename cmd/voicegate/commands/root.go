package commands

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voicegate",
	Short: "Voice gateway for embedded devices",
	Long: `voicegate - WebSocket voice gateway for embedded devices.

Devices connect over WebSocket, stream audio, and get spoken replies
through configurable ASR, chat, and TTS providers. Meeting mode records
long audio, transcribes it in segments, and produces a structured
summary.

At least one provider endpoint must be configured (providers.default for
cloud mode, providers.user for full or hybrid mode).

Examples:
  # Run with a configuration file
  voicegate serve --config /etc/voicegate/config.yaml

  # Override the listen address
  voicegate serve --config config.yaml --listen :9000`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		version := "devel"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Printf("voicegate %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
