// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/db"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintJob outputs a human-readable summary of a single job.
func (p *Printer) PrintJob(job *db.Job) {
	if job == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("Type:     %s\n", job.Type))
	sb.WriteString(fmt.Sprintf("Client:   %s\n", job.ClientID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", statusIcon(job.Status)))

	if job.Progress.TotalSteps > 0 {
		sb.WriteString(fmt.Sprintf("Progress: %d/%d (%d%%)",
			job.Progress.CompletedSteps, job.Progress.TotalSteps, job.Progress.Percentage))
		if job.Progress.CurrentStage != "" {
			sb.WriteString(fmt.Sprintf(" at %s", job.Progress.CurrentStage))
		}
		sb.WriteString("\n")
	}

	if job.TotalTokens > 0 {
		sb.WriteString(fmt.Sprintf("Tokens:   %d prompt / %d output / %d total\n",
			job.PromptTokens, job.OutputTokens, job.TotalTokens))
	}

	if job.RetryOf != nil {
		sb.WriteString(fmt.Sprintf("Retry of: %s (attempt %d)\n", *job.RetryOf, job.RetryCount+1))
	}

	if job.ErrorReason != nil {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", *job.ErrorReason))
		if job.ErrorMessage != nil {
			sb.WriteString(fmt.Sprintf("  %s\n", *job.ErrorMessage))
		}
	}

	if job.ResultDocumentID != nil {
		sb.WriteString(fmt.Sprintf("Result:   %s\n", *job.ResultDocumentID))
	}

	sb.WriteString(fmt.Sprintf("Created:  %s", job.CreatedAt.Format(time.RFC3339)))
	if job.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("\nFinished: %s", job.CompletedAt.Format(time.RFC3339)))
	}

	p.printBox("JOB", sb.String())
}

// PrintJobList outputs a compact listing of jobs, newest first as returned by the store.
func (p *Printer) PrintJobList(jobs []db.Job) {
	if len(jobs) == 0 {
		p.printBox("JOBS", "No jobs found.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d jobs:\n\n", len(jobs)))

	count := min(len(jobs), maxItemsToShow)
	for i := 0; i < count; i++ {
		job := jobs[i]
		sb.WriteString(fmt.Sprintf("%s  %s\n", shortID(job.ID.String()), statusIcon(job.Status)))
		sb.WriteString(fmt.Sprintf("    %s / %s", job.Type, job.ClientID))
		if job.Progress.TotalSteps > 0 && job.Status == db.JobStatusRunning {
			sb.WriteString(fmt.Sprintf(" (%d%%)", job.Progress.Percentage))
		}
		sb.WriteString("\n")
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(jobs) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more jobs", len(jobs)-maxItemsToShow))
	}

	p.printBox("JOBS", sb.String())
}

// PrintSnapshot outputs a snapshot header without the full response body.
func (p *Printer) PrintSnapshot(snap *db.Snapshot) {
	if snap == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", snap.ID))
	sb.WriteString(fmt.Sprintf("Client:   %s\n", snap.ClientID))
	sb.WriteString(fmt.Sprintf("Workflow: %s\n", snap.WorkflowName))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", snap.Status))
	if snap.ErrorMessage != nil {
		msg := *snap.ErrorMessage
		if len(msg) > 50 {
			msg = msg[:47] + "..."
		}
		sb.WriteString(fmt.Sprintf("Error:    %s\n", msg))
	}
	sb.WriteString(fmt.Sprintf("Created:  %s", snap.CreatedAt.Format(time.RFC3339)))

	p.printBox("SNAPSHOT", sb.String())
}

// PrintDocument outputs the domains and fields present in a context document.
func (p *Printer) PrintDocument(doc *contextdoc.Document) {
	if doc == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Client:   %s\n", doc.ID))
	sb.WriteString(fmt.Sprintf("Run:      v%d\n", doc.RunVersion))

	if len(doc.RawInputs) > 0 {
		keys := make([]string, 0, len(doc.RawInputs))
		for k := range doc.RawInputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(fmt.Sprintf("Inputs:   %s\n", strings.Join(keys, ", ")))
	}

	domains := make([]string, 0, len(doc.DomainSections))
	for d := range doc.DomainSections {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	if len(domains) > 0 {
		sb.WriteString("\n")
	}
	for _, domain := range domains {
		fields := make([]string, 0, len(doc.DomainSections[domain]))
		for f := range doc.DomainSections[domain] {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		sb.WriteString(fmt.Sprintf("%s:\n", domain))
		for _, f := range fields {
			sb.WriteString(fmt.Sprintf("  • %s\n", f))
		}
	}

	p.printBox("CONTEXT DOCUMENT", strings.TrimSuffix(sb.String(), "\n"))
}

func statusIcon(status string) string {
	switch status {
	case db.JobStatusCompleted:
		return "✅ " + status
	case db.JobStatusFailed:
		return "⚠ " + status
	default:
		return status
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
