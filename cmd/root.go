package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "carebot",
	Short: "Multilingual health assistant",
	Long: `carebot answers health questions in the user's language. It screens every
message for emergencies, searches for current information when needed and
always replies, degrading to a safe fallback when upstreams are unavailable.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
