// Package report renders per-file test reports and run summaries as text.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/qgate/internal/models"
)

// BuildReport renders a deterministic report for one tested file. The
// category section is left out when the result carries no breakdown.
func BuildReport(file models.FileDescriptor, result models.TestResult) string {
	var b strings.Builder

	section := func(title string) {
		b.WriteString(title + "\n")
		b.WriteString(strings.Repeat("=", len(title)) + "\n")
	}

	section("CODE QUALITY TEST REPORT")
	b.WriteString("\n")
	fmt.Fprintf(&b, "File:      %s\n", file.Path)
	fmt.Fprintf(&b, "Size:      %s\n", humanize.IBytes(uint64(file.Size)))
	fmt.Fprintf(&b, "Category:  %s\n", file.Category)
	fmt.Fprintf(&b, "Type:      %s\n", file.Type)
	fmt.Fprintf(&b, "Tested:    %s\n", formatTime(result.Timestamp))
	fmt.Fprintf(&b, "Status:    %s\n", passFail(result.Success))
	fmt.Fprintf(&b, "Exit Code: %d\n", result.ExitCode)
	b.WriteString("\n")

	if !result.Success {
		section("ERROR DETAILS")
		if result.ErrorType != "" {
			fmt.Fprintf(&b, "Error Type: %s\n", result.ErrorType)
		}
		if s := strings.TrimRight(result.Stderr, "\n"); s != "" {
			fmt.Fprintf(&b, "Error Output:\n%s\n", s)
		}
		b.WriteString("\n")
	}

	if result.DetailedResults != nil && len(result.DetailedResults.Categories) > 0 {
		section("TEST CATEGORIES")
		for i, c := range result.DetailedResults.Categories {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, c.Name, c.Status)
			if c.IssuesCount > 0 {
				fmt.Fprintf(&b, "   Issues: %d\n", c.IssuesCount)
			}
			if c.Details != "" {
				fmt.Fprintf(&b, "   Details: %s\n", c.Details)
			}
		}
		b.WriteString("\n")
	}

	if s := strings.TrimRight(result.Stdout, "\n"); s != "" {
		section("FULL OUTPUT")
		b.WriteString(s + "\n\n")
	}

	if result.Success && result.Stderr != "" {
		section("STDERR")
		b.WriteString(strings.TrimRight(result.Stderr, "\n") + "\n\n")
	}

	section("REMEDIATION PROMPT")
	fmt.Fprintf(&b, "Please analyze this test report and help me fix the issues in %s. ", file.Path)
	b.WriteString("Focus on the failed tests and provide specific code fixes.\n")

	return b.String()
}

// Summary renders one line per file in run order, followed by a totals line.
func Summary(files []models.FileDescriptor, statuses map[int]models.TestStatus, results map[int]models.TestResult) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tSIZE\tSTATUS\tEXIT\tDETAIL")

	passed := 0
	for _, f := range files {
		st := statuses[f.ID]
		if st == "" {
			st = models.StatusNotStarted
		}
		exit, detail := "-", ""
		if r, ok := results[f.ID]; ok {
			exit = fmt.Sprint(r.ExitCode)
			detail = summaryDetail(r)
			if r.Success {
				passed++
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", f.ID, f.Path, humanize.IBytes(uint64(f.Size)), st, exit, detail)
	}
	w.Flush()

	fmt.Fprintf(&buf, "\n%d/%d passed\n", passed, len(files))
	return buf.String()
}

func summaryDetail(r models.TestResult) string {
	if r.ErrorType != "" {
		return r.ErrorType
	}
	if r.DetailedResults == nil {
		return ""
	}
	issues := 0
	for _, c := range r.DetailedResults.Categories {
		issues += c.IssuesCount
	}
	if issues == 0 {
		return ""
	}
	return fmt.Sprintf("%d issues", issues)
}

func passFail(ok bool) string {
	if ok {
		return "PASSED"
	}
	return "FAILED"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
