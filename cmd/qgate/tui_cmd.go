package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fentz26/qgate/internal/tui"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive run monitor",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	if _, err := CheckHealth(); err != nil {
		fmt.Println("qgate daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(exe, args...)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if _, err := CheckHealth(); err == nil {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
