package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/qgate/internal/models"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent backup decision records",
	RunE:  runAudit,
}

var auditLimit int

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	var entries []models.PDREntry
	if err := apiGetJSON(fmt.Sprintf("/audit?limit=%d", auditLimit), &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACTION\tOUTCOME\tSUBJECT\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(e.Timestamp), e.Action, e.Outcome, e.Subject, e.Details)
	}
	w.Flush()
	return nil
}
