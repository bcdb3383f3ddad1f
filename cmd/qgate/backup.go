package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/fentz26/qgate/internal/backup"
	"github.com/fentz26/qgate/internal/controlplane"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/store"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage rollback backups",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE:  runBackupList,
}

var backupShowCmd = &cobra.Command{
	Use:   "show [backup-id]",
	Short: "Show the files of a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupShow,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [file-id...]",
	Short: "Back up files by id",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBackupCreate,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [backup-id...]",
	Short: "Restore the newest of the given backups",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBackupRestore,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete [backup-id...]",
	Short: "Delete backups",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBackupDelete,
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete every backup",
	RunE:  runBackupCleanup,
}

var backupStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backup storage statistics",
	RunE:  runBackupStats,
}

var (
	backupDesc string
	backupMode string
	assumeYes  bool
)

func init() {
	backupCmd.AddCommand(backupListCmd, backupShowCmd, backupCreateCmd, backupRestoreCmd, backupDeleteCmd, backupCleanupCmd, backupStatsCmd)

	backupCreateCmd.Flags().StringVar(&backupDesc, "desc", "", "Backup description")
	backupCreateCmd.Flags().Uint64Var(&generation, "generation", 0, "Reject the ids if the catalog changed since this generation")
	backupCreateCmd.Flags().StringVar(&backupMode, "mode", string(models.BackupTypeManual), "Backup mode (manual, partial, auto)")
	backupCleanupCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

func runBackupList(cmd *cobra.Command, args []string) error {
	var backups []models.Backup
	if err := apiGetJSON("/backups", &backups); err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tTYPE\tFILES\tSIZE\tDESCRIPTION")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			b.ID, humanize.Time(b.CreatedAt), b.Type, b.FileCount, humanize.IBytes(uint64(b.Size)), b.Description)
	}
	w.Flush()
	return nil
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	var b models.Backup
	if err := apiGetJSON("/backups/"+args[0], &b); err != nil {
		return err
	}

	fmt.Printf("Backup:      %s\n", b.ID)
	fmt.Printf("Created:     %s (%s)\n", b.CreatedAt.Local().Format(time.RFC3339), humanize.Time(b.CreatedAt))
	fmt.Printf("Type:        %s\n", b.Type)
	fmt.Printf("Description: %s\n", b.Description)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tSHA256")
	for _, f := range b.FileList {
		sum := f.SHA256
		if len(sum) > 12 {
			sum = sum[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, humanize.IBytes(uint64(f.Size)), sum)
	}
	w.Flush()
	return nil
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	body, err := apiPost("/backups", controlplane.CreateBackupRequest{
		FileIDs:     ids,
		Generation:  generation,
		Description: backupDesc,
		Mode:        models.BackupType(backupMode),
	})
	if err != nil {
		return err
	}
	var b models.Backup
	if err := json.Unmarshal(body, &b); err != nil {
		return err
	}
	color.New(color.FgHiGreen).Printf("Created backup %s", b.ID)
	fmt.Printf(" (%d files, %s)\n", b.FileCount, humanize.IBytes(uint64(b.Size)))
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	body, err := apiPost("/backups/restore", map[string][]string{"ids": args})
	if err != nil {
		return err
	}
	var res backup.RestoreResult
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}

	if len(res.Skipped) > 0 {
		color.New(color.FgYellow).Printf("%d backups selected, only the newest is applied; skipped %s\n",
			res.Selected, strings.Join(res.Skipped, ", "))
	}
	color.New(color.FgHiGreen).Printf("Restored %s", res.Restored)
	fmt.Printf(" (%d files)\n", len(res.FilesWritten))
	for _, p := range res.FilesWritten {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if _, err := apiDelete("/backups/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	}

	body, err := apiPost("/backups/delete", map[string][]string{"ids": args})
	if err != nil {
		return err
	}
	var res backup.BulkResult
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}
	for _, id := range res.Deleted {
		fmt.Printf("Deleted %s\n", id)
	}
	for _, f := range res.Failed {
		color.New(color.FgRed).Printf("Failed  %s: %s\n", f.ID, f.Error)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d deletions failed", len(res.Failed), len(res.Failed)+len(res.Deleted))
	}
	return nil
}

func runBackupCleanup(cmd *cobra.Command, args []string) error {
	if !assumeYes {
		fmt.Print("Delete ALL backups? This cannot be undone. [y/N] ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	body, err := apiDelete("/backups")
	if err != nil {
		return err
	}
	var res map[string]int
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}
	fmt.Printf("Deleted %d backups\n", res["deleted"])
	return nil
}

func runBackupStats(cmd *cobra.Command, args []string) error {
	var stats store.Stats
	if err := apiGetJSON("/backups/stats", &stats); err != nil {
		return err
	}
	fmt.Printf("Backups:    %s\n", humanize.Comma(int64(stats.Backups)))
	fmt.Printf("Files:      %s\n", humanize.Comma(int64(stats.Files)))
	fmt.Printf("Total size: %s\n", humanize.IBytes(uint64(stats.TotalSize)))
	return nil
}
