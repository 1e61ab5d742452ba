// Command init_schema creates the jobs and snapshots tables on a fresh database.
// Safe to re-run: all statements are idempotent.
//
// Usage:
//
//	go run cmd/tools/init_schema/main.go
//
// Requires DATABASE_URL environment variable to be set.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		type TEXT NOT NULL,
		client_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		current_stage TEXT NOT NULL DEFAULT '',
		completed_steps INT NOT NULL DEFAULT 0,
		total_steps INT NOT NULL,
		percentage INT NOT NULL DEFAULT 0,
		progress_message TEXT NOT NULL DEFAULT '',
		context_seed JSONB NOT NULL,
		context_document JSONB,
		result_document_id UUID,
		error_reason TEXT,
		error_message TEXT,
		retry_count INT NOT NULL DEFAULT 0,
		retry_of UUID,
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	// Claim queries scan pending jobs in FIFO order.
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_created_at ON jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_client_id ON jobs (client_id)`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		client_id TEXT NOT NULL,
		workflow_name TEXT NOT NULL,
		input JSONB NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_client_created ON snapshots (client_id, created_at DESC)`,
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "ERROR: DATABASE_URL environment variable not set")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	fmt.Println("=== Schema Initialization ===")
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: statement failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Println("Schema is up to date.")
}
