// Package localexec provides a local command executor with an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/connectors"
)

// defaultAllowed is the baseline allowlist: command -> permitted first argument.
var defaultAllowed = map[string][]string{
	"git": {"status", "diff", "rev-parse"},
}

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string

	mu      sync.RWMutex
	allowed map[string][]string
}

// New creates a new LocalExec connector with the baseline allowlist.
func New(workDir string) *LocalExec {
	allowed := make(map[string][]string, len(defaultAllowed))
	for cmd, subs := range defaultAllowed {
		allowed[cmd] = append([]string(nil), subs...)
	}
	return &LocalExec{workDir: workDir, allowed: allowed}
}

// NewWithAnalyzers creates a connector that additionally permits every
// configured analyzer invocation.
func NewWithAnalyzers(workDir string, analyzers map[string][]config.Analyzer) *LocalExec {
	l := New(workDir)
	for _, list := range analyzers {
		for _, a := range list {
			first := ""
			if len(a.Args) > 0 {
				first = a.Args[0]
			}
			l.Allow(a.Command, first)
		}
	}
	return l
}

// Allow adds cmd with first argument sub to the allowlist.
func (l *LocalExec) Allow(cmd, sub string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.allowed[cmd] {
		if s == sub {
			return
		}
	}
	l.allowed[cmd] = append(l.allowed[cmd], sub)
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	l.mu.RLock()
	allowedSubcmds, ok := l.allowed[cmd]
	l.mu.RUnlock()
	if !ok {
		return false
	}

	if len(args) == 0 {
		return false
	}

	// Check if the first arg (subcommand) is allowed
	subcmd := args[0]
	for _, allowed := range allowedSubcmds {
		if subcmd == allowed {
			return true
		}
	}
	return false
}

// Execute runs a command if it's in the allowlist.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	err := execCmd.Run()

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && ctx.Err() == nil {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}, nil
}
