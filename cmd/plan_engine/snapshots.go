package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coachplan/plan-engine/internal/observability"
)

var (
	snapshotsDatabaseURL string
	snapshotsLimit       int
	snapshotsShowBody    bool
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect recorded plan snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list <client-id>",
	Short: "List a client's snapshots, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotsList,
}

var snapshotsGetCmd = &cobra.Command{
	Use:   "get <snapshot-id>",
	Short: "Show a single snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotsGet,
}

func init() {
	snapshotsCmd.PersistentFlags().StringVar(&snapshotsDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	snapshotsListCmd.Flags().IntVar(&snapshotsLimit, "limit", 50, "Maximum snapshots to list")
	snapshotsGetCmd.Flags().BoolVar(&snapshotsShowBody, "body", false, "Print the full recorded response body")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsGetCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

func runSnapshotsList(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	database, err := connectDatabase(ctx, snapshotsDatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	snapshots, err := database.ListSnapshots(ctx, args[0], snapshotsLimit)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	for i := range snapshots {
		printer.PrintSnapshot(&snapshots[i])
	}
	if len(snapshots) == 0 {
		fmt.Printf("No snapshots found for client %s\n", args[0])
	}
	return nil
}

func runSnapshotsGet(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	snapshotID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid snapshot ID: %s", args[0])
	}

	database, err := connectDatabase(ctx, snapshotsDatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	snapshot, err := database.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("snapshot not found: %s", snapshotID)
	}

	observability.NewPrinter(os.Stdout).PrintSnapshot(snapshot)
	if snapshotsShowBody {
		fmt.Println(snapshot.Response)
	}
	return nil
}
