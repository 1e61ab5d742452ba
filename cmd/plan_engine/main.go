// Package main provides the entry point for the plan engine CLI and services.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "plan_engine",
	Short: "Coaching plan generation engine",
	Long:  "Plan engine turns client intake questionnaires into structured training and nutrition plans through a staged LLM pipeline, with durable background jobs and a REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
