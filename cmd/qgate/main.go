package main

import (
	"fmt"
	"os"

	"github.com/fentz26/qgate/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "qgate",
	Short: "qgate - code-quality gate with rollback backups",
	Long: `qgate runs code-quality analyzers over selected workspace files, one at a time,
and keeps rollback backups of files that passed.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7477", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.qgate/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(dismissCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromHome()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
