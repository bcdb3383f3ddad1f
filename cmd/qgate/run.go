package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/fentz26/qgate/internal/controlplane"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/report"
	"github.com/fentz26/qgate/internal/session"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [file-id...]",
	Short: "Test files one at a time",
	Long: `Starts a sequential code-quality run over the given file ids, a preset, or
the files changed since the last backup. Use --wait to follow progress.`,
	RunE: runRun,
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Back up the files that passed the last run",
	RunE:  runApprove,
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss",
	Short: "Dismiss the backup decision of the last run",
	RunE:  runDismiss,
}

var reportCmd = &cobra.Command{
	Use:   "report [file-id]",
	Short: "Show the test report of a file from the last run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var (
	runPreset   string
	runChanged  bool
	runWait     bool
	generation  uint64
	sessionID   string
	description string
)

func init() {
	runCmd.Flags().StringVar(&runPreset, "preset", "", "Quick selection to run (all, critical, large, backend, frontend, css, recommended)")
	runCmd.Flags().BoolVar(&runChanged, "changed", false, "Run the files changed since the last backup")
	runCmd.Flags().BoolVar(&runWait, "wait", true, "Follow the run until it finishes")
	runCmd.Flags().Uint64Var(&generation, "generation", 0, "Reject the ids if the catalog changed since this generation")

	approveCmd.Flags().StringVar(&sessionID, "session", "", "Only approve if the decision belongs to this run")
	approveCmd.Flags().StringVar(&description, "desc", "", "Backup description")
	dismissCmd.Flags().StringVar(&sessionID, "session", "", "Only dismiss if the decision belongs to this run")
}

func runRun(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	return startRun(controlplane.RunRequest{FileIDs: ids, Generation: generation, Preset: runPreset, Changed: runChanged})
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid file id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func startRun(req controlplane.RunRequest) error {
	body, err := apiPost("/runs", req)
	if err != nil {
		return err
	}
	var started controlplane.RunStarted
	if err := json.Unmarshal(body, &started); err != nil {
		return err
	}

	fmt.Printf("Started run %s (%d files)\n", started.SessionID, len(started.FileIDs))
	for _, p := range started.Unmatched {
		fmt.Printf("  skipped %s (not a testable file)\n", p)
	}
	if !runWait {
		return nil
	}
	return followRun(started.SessionID)
}

// followRun prints every status change until the run ends.
func followRun(id string) error {
	seen := map[int]models.TestStatus{}
	for {
		var v session.View
		if err := apiGetJSON("/runs/current", &v); err != nil {
			return err
		}
		if v.ID != id {
			return fmt.Errorf("run %s was superseded by %s", id, v.ID)
		}

		for _, f := range v.Files {
			st := v.Statuses[f.ID]
			if seen[f.ID] == st || st == models.StatusWaiting || st == models.StatusNotStarted {
				continue
			}
			seen[f.ID] = st
			fmt.Printf("  %s %s\n", statusLabel(st), f.Path)
		}

		if !v.Active {
			printOutcome(&v)
			return nil
		}
		time.Sleep(time.Second)
	}
}

func statusLabel(st models.TestStatus) string {
	switch st {
	case models.StatusRunning:
		return color.New(color.FgYellow).Sprint("[running] ")
	case models.StatusCompleted:
		return color.New(color.FgHiGreen).Sprint("[passed]  ")
	case models.StatusFailed:
		return color.New(color.FgRed).Sprint("[failed]  ")
	case models.StatusError:
		return color.New(color.FgHiRed).Sprint("[error]   ")
	default:
		return fmt.Sprintf("[%s]", st)
	}
}

func printOutcome(v *session.View) {
	fmt.Println()
	fmt.Print(report.Summary(v.Files, v.Statuses, v.Results))

	d := v.Pending
	if d == nil {
		if len(v.Passed()) == 0 {
			color.New(color.FgRed).Println("No file passed, nothing to back up.")
		}
		return
	}
	fmt.Println()
	color.New(color.FgCyan).Printf("%d of %d files passed. ", len(d.PassedIDs), len(v.Files))
	fmt.Printf("Run `qgate approve` to create a %s backup of:\n", d.Mode)
	for _, p := range d.PassedPaths {
		fmt.Printf("  %s\n", p)
	}
	fmt.Println("or `qgate dismiss` to skip it.")
}

type decisionBody struct {
	SessionID   string `json:"session_id"`
	Description string `json:"description,omitempty"`
}

func runApprove(cmd *cobra.Command, args []string) error {
	body, err := apiPost("/runs/approve", decisionBody{SessionID: sessionID, Description: description})
	if err != nil {
		return err
	}
	var b models.Backup
	if err := json.Unmarshal(body, &b); err != nil {
		return err
	}
	color.New(color.FgHiGreen).Printf("Created %s backup %s", b.Type, b.ID)
	fmt.Printf(" (%d files)\n", b.FileCount)
	return nil
}

func runDismiss(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/runs/dismiss", decisionBody{SessionID: sessionID}); err != nil {
		return err
	}
	fmt.Println("Backup decision dismissed.")
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid file id %q", args[0])
	}
	body, err := apiGet("/reports/" + strconv.Itoa(id))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(body)
	return err
}
