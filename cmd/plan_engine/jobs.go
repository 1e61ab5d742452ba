package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coachplan/plan-engine/internal/db"
	"github.com/coachplan/plan-engine/internal/observability"
)

var (
	jobsDatabaseURL string
	jobsStatus      string
	jobsClientID    string
	jobsType        string
	jobsLimit       int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a single job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Clone a failed job into a fresh pending job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (pending, running, completed, failed)")
	jobsListCmd.Flags().StringVar(&jobsClientID, "client", "", "Filter by client identifier")
	jobsListCmd.Flags().StringVar(&jobsType, "type", "", "Filter by pipeline type")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum jobs to list")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	database, err := connectDatabase(ctx, jobsDatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := database.ListJobs(ctx, db.JobFilters{
		Status:   jobsStatus,
		ClientID: jobsClientID,
		Type:     jobsType,
		Limit:    jobsLimit,
	})
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintJobList(jobs)
	return nil
}

func runJobsGet(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job ID: %s", args[0])
	}

	database, err := connectDatabase(ctx, jobsDatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := database.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	observability.NewPrinter(os.Stdout).PrintJob(job)
	return nil
}

func runJobsRetry(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job ID: %s", args[0])
	}

	database, err := connectDatabase(ctx, jobsDatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := database.RetryJob(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued retry of %s\n", jobID)
	observability.NewPrinter(os.Stdout).PrintJob(job)
	return nil
}
