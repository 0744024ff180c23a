package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusGatewayURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway health",
	Long:  "Query the gateway health endpoint and report whether it is accepting events.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusGatewayURL, "gateway-url", "", "gateway base URL (default: from profile)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	gatewayURL := statusGatewayURL
	if gatewayURL == "" {
		profile, err := profileFor(cmd)
		if err != nil {
			return err
		}
		gatewayURL = profile.GatewayURL
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(gatewayURL + "/health")
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status         string `json:"status"`
		PublisherReady bool   `json:"publisherReady"`
		Timestamp      string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	fmt.Printf("Gateway:   %s\n", gatewayURL)
	fmt.Printf("Status:    %s\n", health.Status)
	fmt.Printf("Publisher: ready=%v\n", health.PublisherReady)
	fmt.Printf("As of:     %s\n", health.Timestamp)

	if !health.PublisherReady {
		return fmt.Errorf("gateway is not accepting events")
	}
	return nil
}
