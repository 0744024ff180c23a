package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline-systems/driftline-stack/cli/internal/seeder"
)

var (
	seedGatewayURL string
	seedSessions   int
	seedPerSession int
	seedSpread     string
	seedChannels   string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate and send test events",
	Long: `Generate plausible behavioral sessions and send them through the
gateway, so both sinks fill with data.

Examples:
  # Default volume against the configured gateway
  driftctl seed

  # A day of web and chat traffic
  driftctl seed --channels web,chat --sessions 50 --per-session 100 --spread 24h

  # Real-time timestamps
  driftctl seed --spread 0`,
	RunE: runSeed,
}

var seedChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels the seeder can generate for",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range seeder.Channels() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.AddCommand(seedChannelsCmd)

	seedCmd.Flags().StringVar(&seedGatewayURL, "gateway-url", "", "gateway base URL (default: from profile)")
	seedCmd.Flags().IntVar(&seedSessions, "sessions", 20, "number of sessions to generate")
	seedCmd.Flags().IntVar(&seedPerSession, "per-session", 50, "events per session")
	seedCmd.Flags().StringVar(&seedSpread, "spread", "24h", "time window to spread timestamps over (e.g. 30m, 24h, 168h; 0 for real-time)")
	seedCmd.Flags().StringVar(&seedChannels, "channels", "", "comma-separated channels (default: all)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := seeder.DefaultConfig()
	cfg.Sessions = seedSessions
	cfg.EventsPerSession = seedPerSession

	if seedGatewayURL != "" {
		cfg.GatewayURL = seedGatewayURL
	} else {
		profile, err := profileFor(cmd)
		if err != nil {
			return err
		}
		cfg.GatewayURL = profile.GatewayURL
	}

	if seedSpread != "" && seedSpread != "0" {
		spread, err := time.ParseDuration(seedSpread)
		if err != nil {
			return fmt.Errorf("invalid spread: %w", err)
		}
		cfg.TimeSpread = spread
	} else {
		cfg.TimeSpread = 0
	}

	if seedChannels != "" {
		for _, name := range strings.Split(seedChannels, ",") {
			cfg.Channels = append(cfg.Channels, strings.TrimSpace(name))
		}
	}

	return seeder.NewRunner(cfg).Run(cmd.Context())
}
