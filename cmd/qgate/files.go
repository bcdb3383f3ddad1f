package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/qgate/internal/controlplane"
	"github.com/fentz26/qgate/internal/models"
	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List testable workspace files",
	Long:  `Rescans the workspace and lists every testable file with its id. Ids are only valid until the next scan.`,
	RunE:  runFiles,
}

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List files changed since the last backup",
	RunE:  runChanges,
}

var (
	filesPreset string
	changesRun  bool
)

func init() {
	filesCmd.Flags().StringVar(&filesPreset, "preset", "", "Only show a quick selection (all, critical, large, backend, frontend, css, recommended)")
	changesCmd.Flags().BoolVar(&changesRun, "run", false, "Start a test run over the changed files")
}

func runFiles(cmd *cobra.Command, args []string) error {
	var (
		files []models.FileDescriptor
		gen   uint64
	)
	if filesPreset != "" {
		var sel controlplane.Selection
		if err := apiGetJSON("/files/select?preset="+url.QueryEscape(filesPreset), &sel); err != nil {
			return err
		}
		files, gen = sel.Files, sel.Generation
	} else {
		var err error
		if gen, err = apiGetJSONGeneration("/files", &files); err != nil {
			return err
		}
	}

	if len(files) == 0 {
		fmt.Println("No files found.")
		return nil
	}
	printFiles(files, gen)
	return nil
}

func printFiles(files []models.FileDescriptor, gen uint64) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tSIZE\tCATEGORY\tTYPE")
	var total int64
	for _, f := range files {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", f.ID, f.Path, humanize.IBytes(uint64(f.Size)), f.Category, f.Type)
		total += f.Size
	}
	w.Flush()
	fmt.Printf("\n%d files, %s (catalog generation %d)\n", len(files), humanize.IBytes(uint64(total)), gen)
}

func runChanges(cmd *cobra.Command, args []string) error {
	if changesRun {
		return startRun(controlplane.RunRequest{Changed: true})
	}

	var entries []models.ChangedFileEntry
	if err := apiGetJSON("/changes", &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No changes since the last backup.")
		return nil
	}

	paths := make([]string, 0, len(entries))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tPATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.ChangeStatus, e.Path)
		if e.ChangeStatus != models.ChangeDeleted {
			paths = append(paths, e.Path)
		}
	}
	w.Flush()

	body, err := apiPost("/changes/match", map[string][]string{"paths": paths})
	if err != nil {
		return err
	}
	var m controlplane.Match
	if err := json.Unmarshal(body, &m); err != nil {
		return err
	}
	fmt.Printf("\n%d testable, %d outside the catalog\n", len(m.Matched), len(m.Unmatched))
	return nil
}
