package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configSetGatewayURL  string
	configSetDatabaseURL string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI profiles",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("profile")
		if name == "" {
			name = cfg.CurrentProfile
		}
		profile, err := cfg.GetProfile(name)
		if err != nil {
			return err
		}

		fmt.Printf("Profile:      %s\n", name)
		fmt.Printf("Gateway URL:  %s\n", profile.GatewayURL)
		if profile.DatabaseURL != "" {
			fmt.Printf("Database URL: %s\n", profile.DatabaseURL)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save the given profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("profile")
		if configSetGatewayURL == "" {
			return fmt.Errorf("--gateway-url is required")
		}
		if err := cfg.SaveProfile(name, configSetGatewayURL, configSetDatabaseURL); err != nil {
			return err
		}
		fmt.Printf("Saved profile %s\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	configSetCmd.Flags().StringVar(&configSetGatewayURL, "gateway-url", "", "gateway base URL")
	configSetCmd.Flags().StringVar(&configSetDatabaseURL, "database-url", "", "lake database URL")
}
