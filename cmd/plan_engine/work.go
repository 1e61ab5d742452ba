package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coachplan/plan-engine/internal/db"
	"github.com/coachplan/plan-engine/internal/llm"
	"github.com/coachplan/plan-engine/internal/pipeline"
	"github.com/coachplan/plan-engine/internal/scheduler"
	"github.com/coachplan/plan-engine/internal/stage"
)

var (
	workConfigPath    string
	workMaxConcurrent int
	workAPIKey        string
	workDatabaseURL   string
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the background worker pool",
	Long: `Start the worker process: a polling scheduler that claims pending jobs and runs
them through the plan pipeline under a concurrency ceiling, plus a watchdog that
fails jobs stuck in running past their time budget. Runs until interrupted.`,
	RunE: runWork,
}

func init() {
	workCmd.Flags().StringVar(&workConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	workCmd.Flags().IntVar(&workMaxConcurrent, "max-concurrent", 0, "Maximum jobs executing at once")
	workCmd.Flags().StringVar(&workAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	workCmd.Flags().StringVar(&workDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, _ []string) error {
	cfg, err := loadEngineConfig(cmd, workConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-concurrent") {
		cfg.MaxConcurrentJobs = workMaxConcurrent
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = workAPIKey
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = workDatabaseURL
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	engine, err := llm.NewGeminiClient(ctx, llm.DefaultGeminiConfig(), cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer engine.Close()

	runner := pipeline.New(engine, stage.NewRegistry())

	sched := scheduler.New(database, database, runner, scheduler.Config{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		PollInterval:  cfg.PollInterval(),
	})
	watchdog := scheduler.NewWatchdog(database, scheduler.WatchdogConfig{
		Interval:   cfg.WatchdogInterval(),
		JobTimeout: cfg.JobTimeout(),
	})

	fmt.Printf("Worker starting: max_concurrent=%d poll=%s job_timeout=%s\n",
		cfg.MaxConcurrentJobs, cfg.PollInterval(), cfg.JobTimeout())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return watchdog.Run(gctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	fmt.Println("Worker stopped")
	return nil
}
