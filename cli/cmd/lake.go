package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline-systems/driftline-stack/lakesink/lake"
)

var lakeDatabaseURL string

var lakeCmd = &cobra.Command{
	Use:   "lake",
	Short: "Inspect the analytical lake",
}

var lakeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest lake commit",
	RunE:  runLakeStatus,
}

var lakeSessionCmd = &cobra.Command{
	Use:   "session <session-id> [version]",
	Short: "Show a session's events, optionally as of an older commit version",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLakeSession,
}

func init() {
	rootCmd.AddCommand(lakeCmd)
	lakeCmd.AddCommand(lakeStatusCmd)
	lakeCmd.AddCommand(lakeSessionCmd)

	lakeCmd.PersistentFlags().StringVar(&lakeDatabaseURL, "database-url", "", "lake database URL (default: from profile)")
}

func openLake(cmd *cobra.Command) (*lake.Store, error) {
	databaseURL := lakeDatabaseURL
	if databaseURL == "" {
		profile, err := profileFor(cmd)
		if err != nil {
			return nil, err
		}
		databaseURL = profile.DatabaseURL
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("no database URL configured (use --database-url or set database_url in the profile)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	return lake.New(ctx, databaseURL)
}

func runLakeStatus(cmd *cobra.Command, args []string) error {
	store, err := openLake(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	commit, err := store.LatestCommit(cmd.Context())
	if err != nil {
		return err
	}
	if commit == nil {
		fmt.Println("Lake is empty: no commits yet")
		return nil
	}

	count, err := store.EventCountAsOf(cmd.Context(), commit.Version)
	if err != nil {
		return err
	}

	fmt.Printf("Latest version: %d\n", commit.Version)
	fmt.Printf("Batch ID:       %s\n", commit.BatchID)
	fmt.Printf("Committed at:   %s\n", commit.CommittedAt.UTC().Format(time.RFC3339))
	fmt.Printf("Batch events:   %d\n", commit.EventCount)
	fmt.Printf("Total events:   %d\n", count)
	return nil
}

func runLakeSession(cmd *cobra.Command, args []string) error {
	store, err := openLake(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionID := args[0]

	var version int64
	if len(args) == 2 {
		version, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
	} else {
		commit, err := store.LatestCommit(cmd.Context())
		if err != nil {
			return err
		}
		if commit == nil {
			fmt.Println("Lake is empty: no commits yet")
			return nil
		}
		version = commit.Version
	}

	events, err := store.SessionEventsAsOf(cmd.Context(), sessionID, version)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No events for session %s as of version %d\n", sessionID, version)
		return nil
	}

	fmt.Printf("Session %s as of version %d (%d events):\n", sessionID, version, len(events))
	for _, e := range events {
		fmt.Printf("  %s  %-10s %-24s %s\n", e.Timestamp, e.Channel, e.EventType, e.InteractionTarget)
	}
	return nil
}
