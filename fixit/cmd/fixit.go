// Command-line client for the Fix It chat service.
package main

import (
	"fixit/fixit/utils/color"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var (
	serverURL string
	statePath string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "fixit",
	Short: "Chat with Fix It AI from the terminal",
	Long: `fixit talks to a running Fix It server. It keeps an anonymous user id
in a local state file so the daily message quota follows you between runs.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.Disable()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("FIXIT_SERVER", "http://localhost:8000"), "base URL of the Fix It server")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "state file (default is $HOME/.fixit/state.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(chatCmd, usageCmd, healthCmd, whoamiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.ColorError(err.Error()))
		os.Exit(1)
	}
}
