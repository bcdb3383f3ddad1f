package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/connectors"
	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/models"
	"go.uber.org/zap"
)

// FilePlaceholder is replaced with the file's workspace-relative path in
// analyzer arguments.
const FilePlaceholder = "{file}"

// Local is a Runner that executes the configured analyzers in-process through
// a connector. Each analyzer becomes one result category.
type Local struct {
	conn      connectors.Connector
	analyzers map[string][]config.Analyzer
	logger    *zap.Logger
	now       func() time.Time

	mu  sync.Mutex
	job *localJob
	wg  sync.WaitGroup
}

type localJob struct {
	file   models.FileDescriptor
	cancel context.CancelFunc
	done   bool
	result *models.TestResult
}

// NewLocal creates a local runner. conn must allow every analyzer command.
func NewLocal(conn connectors.Connector, analyzers map[string][]config.Analyzer, logger *zap.Logger) *Local {
	return &Local{
		conn:      conn,
		analyzers: analyzers,
		logger:    logging.OrNop(logger).Named("runner.local"),
		now:       time.Now,
	}
}

// Submit starts the analyzers for file in the background. A submission that
// is still running is cancelled and replaced.
func (l *Local) Submit(ctx context.Context, file models.FileDescriptor) (SubmitResponse, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResponse{}, &TransportError{Op: "submit", Err: err}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &localJob{file: file, cancel: cancel}

	l.mu.Lock()
	if prev := l.job; prev != nil && !prev.done {
		l.logger.Warn("superseding unfinished job",
			zap.Int("file_id", prev.file.ID),
			zap.String("path", prev.file.Path),
		)
		prev.cancel()
	}
	l.job = job
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		result := l.analyze(jobCtx, file)

		l.mu.Lock()
		job.result = result
		job.done = true
		l.mu.Unlock()
	}()

	return SubmitResponse{Status: SubmitRunning}, nil
}

// Abandon cancels the outstanding submission, if it is still running. Its
// result is never reported.
func (l *Local) Abandon() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.job == nil || l.job.done {
		return
	}
	l.logger.Info("abandoning job", zap.Int("file_id", l.job.file.ID), zap.String("path", l.job.file.Path))
	l.job.cancel()
	l.job = nil
}

// Poll reports on the most recent submission.
func (l *Local) Poll(ctx context.Context) (PollResponse, error) {
	if err := ctx.Err(); err != nil {
		return PollResponse{}, &TransportError{Op: "poll", Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.job == nil:
		return PollResponse{Status: PollNotFound}, nil
	case !l.job.done:
		return PollResponse{Status: PollRunning}, nil
	}

	result := *l.job.result
	status := PollCompleted
	if !result.Success {
		status = PollFailed
	}
	return PollResponse{Status: status, Result: &result}, nil
}

// Wait blocks until no analyzer goroutine is running.
func (l *Local) Wait() {
	l.wg.Wait()
}

func (l *Local) analyze(ctx context.Context, file models.FileDescriptor) *models.TestResult {
	result := &models.TestResult{FileID: file.ID, Success: true}

	analyzers := l.analyzers[file.Type]
	if len(analyzers) == 0 {
		result.Stdout = fmt.Sprintf("no analyzers configured for %s files", file.Type)
		result.Timestamp = l.now().UTC()
		return result
	}

	var stdout, stderr strings.Builder
	details := &models.DetailedResults{}

	for _, a := range analyzers {
		args := make([]string, len(a.Args))
		for i, arg := range a.Args {
			args[i] = strings.ReplaceAll(arg, FilePlaceholder, file.Path)
		}

		cat := models.CategoryResult{Name: a.Name, Status: "passed"}
		res, err := l.conn.Execute(ctx, a.Command, args)
		switch {
		case err != nil:
			cat.Status = "error"
			cat.IssuesCount = 1
			cat.Details = err.Error()
			result.Success = false
			if result.ExitCode == 0 {
				result.ExitCode = -1
			}
			fmt.Fprintf(&stderr, "%s: %v\n", a.Name, err)
		case res.ExitCode != 0:
			cat.Status = "failed"
			cat.IssuesCount = countIssues(res.Stdout + res.Stderr)
			cat.Details = strings.TrimSpace(res.Stderr)
			result.Success = false
			if result.ExitCode == 0 {
				result.ExitCode = res.ExitCode
			}
		}
		if res != nil {
			if out := strings.TrimSpace(res.Stdout); out != "" {
				fmt.Fprintf(&stdout, "== %s ==\n%s\n", a.Name, out)
			}
			if out := strings.TrimSpace(res.Stderr); out != "" {
				fmt.Fprintf(&stderr, "== %s ==\n%s\n", a.Name, out)
			}
		}
		details.Categories = append(details.Categories, cat)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.DetailedResults = details
	result.Timestamp = l.now().UTC()

	l.logger.Debug("analyzed",
		zap.Int("file_id", file.ID),
		zap.String("path", file.Path),
		zap.Bool("success", result.Success),
	)
	return result
}

// countIssues counts non-empty output lines, with a floor of one for a failing analyzer.
func countIssues(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}
