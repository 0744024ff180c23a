package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftline-systems/driftline-stack/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "driftctl",
	Short: "Driftline Stack CLI",
	Long: `driftctl is the command-line interface for the Driftline event stack.

Seed test traffic through the gateway, check service health, and
inspect commits in the analytical lake from your terminal.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.driftline/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "default", "profile to use")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// profileFor resolves the active profile from the --profile flag.
func profileFor(cmd *cobra.Command) (*config.Profile, error) {
	name, _ := cmd.Flags().GetString("profile")
	return cfg.GetProfile(name)
}
