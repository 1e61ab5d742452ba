package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/db"
	"github.com/coachplan/plan-engine/internal/observability"
	"github.com/coachplan/plan-engine/internal/schemas"
	"github.com/coachplan/plan-engine/internal/stage"
)

var (
	enqueueType         string
	enqueueClientID     string
	enqueueInputPath    string
	enqueuePreviousPath string
	enqueueDatabaseURL  string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a plan generation job",
	Long: `Validate an intake file against the questionnaire schema and store a pending job.
The job is executed by the worker process. Pass --previous with a prior run's
context document to start an evolutionary follow-up run.`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueType, "type", "t", "", "Pipeline type (training or nutrition)")
	enqueueCmd.Flags().StringVarP(&enqueueClientID, "client", "c", "", "Client identifier")
	enqueueCmd.Flags().StringVarP(&enqueueInputPath, "input", "i", "", "Path to intake JSON file")
	enqueueCmd.Flags().StringVar(&enqueuePreviousPath, "previous", "", "Path to a previous run's context document JSON (optional)")
	enqueueCmd.Flags().StringVar(&enqueueDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	_ = enqueueCmd.MarkFlagRequired("type")
	_ = enqueueCmd.MarkFlagRequired("client")
	_ = enqueueCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	registry := stage.NewRegistry()
	pipeline, err := registry.Pipeline(enqueueType)
	if err != nil {
		return err
	}

	intakeJSON, err := os.ReadFile(enqueueInputPath)
	if err != nil {
		return fmt.Errorf("failed to read intake file: %w", err)
	}

	schemaPath := schemas.ResolveSchemaPath(schemas.IntakeQuestionnaireSchema)
	if schemaPath == "" {
		return fmt.Errorf("intake schema not found: %s", schemas.IntakeQuestionnaireSchema)
	}
	intakeSchema, err := schemas.LoadSchema(schemaPath)
	if err != nil {
		return err
	}
	if err := intakeSchema.Validate(intakeJSON); err != nil {
		return fmt.Errorf("intake file rejected: %w", err)
	}

	seed := contextdoc.Seed{}
	if err := json.Unmarshal(intakeJSON, &seed.RawInputs); err != nil {
		return fmt.Errorf("failed to parse intake file: %w", err)
	}

	if enqueuePreviousPath != "" {
		prevJSON, err := os.ReadFile(enqueuePreviousPath)
		if err != nil {
			return fmt.Errorf("failed to read previous document: %w", err)
		}
		var prev contextdoc.Document
		if err := json.Unmarshal(prevJSON, &prev); err != nil {
			return fmt.Errorf("failed to parse previous document: %w", err)
		}
		seed.PreviousDocument = &prev
	}

	seedJSON, err := json.Marshal(&seed)
	if err != nil {
		return fmt.Errorf("failed to encode seed: %w", err)
	}

	database, err := connectDatabase(ctx, enqueueDatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := database.EnqueueJob(ctx, &db.EnqueueJobInput{
		Type:        enqueueType,
		ClientID:    enqueueClientID,
		ContextSeed: seedJSON,
		TotalSteps:  pipeline.TotalSteps(),
	})
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintJob(job)
	return nil
}

// connectDatabase resolves the connection URL (flag, then environment) and connects.
func connectDatabase(ctx context.Context, flagURL string) (*db.DB, error) {
	url := flagURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return db.Connect(ctx, url)
}
