// arenabot - quick chat battles narrated by an AI.
//
// Runs as a single server process: chat gateways collect fighters and
// strategies from a channel, a text-generation model narrates the battle,
// and finished battles are stored and served over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "arenabot",
	Short: "arenabot - quick chat battles narrated by an AI",
	Long: `arenabot runs timed multiplayer battles in Slack and Telegram channels.
Participants join during a countdown, submit fighters and strategies,
and an AI narrator decides the outcome.

  arenabot serve            Start the server
  arenabot battles          List stored battles
  arenabot show <id>        Print one battle's narrative`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ARENABOT_SERVER", "http://localhost:7080"), "arenabot server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
