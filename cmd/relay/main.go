package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the base command when relay is invoked without a
// subcommand. Grounded on scriptschnell's cmd/eval root/serve split.
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "collabrelay session broker",
	Long: `relay runs the collaborative-editing session broker: a TCP (and
optionally WebSocket) server that relays newline-delimited JSON events
between connected editor clients, tracks the current host, and forwards
host-directed requests to their responses.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
