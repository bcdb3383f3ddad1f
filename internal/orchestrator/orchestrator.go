// Package orchestrator runs code-quality tests for a selection of files, one
// file at a time, and raises a pending backup decision when anything passed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/qgate/internal/catalog"
	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/poll"
	"github.com/fentz26/qgate/internal/runner"
	"github.com/fentz26/qgate/internal/session"
	"go.uber.org/zap"
)

var (
	// ErrEmptySelection is returned when no file ids were given.
	ErrEmptySelection = errors.New("no files selected")
	// ErrUnknownFile is returned when a selected id is not in the current catalog snapshot.
	ErrUnknownFile = errors.New("unknown file id")
	// ErrRunInProgress is returned when a run is already active.
	ErrRunInProgress = session.ErrRunInProgress
)

// BackupDecision is the pending approval raised after a run.
type BackupDecision = models.BackupDecision

// Catalog supplies the snapshot that selection ids refer to.
type Catalog interface {
	Current(ctx context.Context) *catalog.Snapshot
}

// Event is one status change during a run.
type Event struct {
	SessionID string             `json:"session_id"`
	FileID    int                `json:"file_id"`
	Path      string             `json:"path"`
	Status    models.TestStatus  `json:"status"`
	Result    *models.TestResult `json:"result,omitempty"`
}

// Outcome is the final state of a run.
type Outcome struct {
	SessionID string                    `json:"session_id"`
	Order     []int                     `json:"order"`
	Statuses  map[int]models.TestStatus `json:"statuses"`
	Results   map[int]models.TestResult `json:"results"`
	Passed    int                       `json:"passed"`
	Total     int                       `json:"total"`
	Decision  *BackupDecision           `json:"decision,omitempty"`
}

// Orchestrator is the sequential test orchestrator.
type Orchestrator struct {
	catalog  Catalog
	runner   runner.Runner
	sessions *session.Store
	cfg      config.OrchestratorConfig
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Background run control
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator.
func New(c Catalog, r runner.Runner, sessions *session.Store, cfg config.OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		catalog:  c,
		runner:   r,
		sessions: sessions,
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("orchestrator"),
		now:      time.Now,
		sleep:    poll.Sleep,
	}
}

// RunTests tests every selected file strictly in order and blocks until the
// run ends. Every file ends completed, failed or error; a failing file never
// stops the queue. A second call while a run is active fails with
// ErrRunInProgress.
func (o *Orchestrator) RunTests(ctx context.Context, selection []int, notify func(Event)) (*Outcome, error) {
	sess, files, err := o.prepare(ctx, selection)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, sess, files, notify), nil
}

// Start begins a run in the background and returns its session id. Selection
// errors and ErrRunInProgress are returned synchronously.
func (o *Orchestrator) Start(selection []int, notify func(Event)) (string, error) {
	sess, files, err := o.prepare(context.Background(), selection)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.execute(ctx, sess, files, notify)
	}()
	return sess.ID(), nil
}

// Cancel stops the background run, if any. Remaining files end as cancelled.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the background run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop cancels any background run and waits for it.
func (o *Orchestrator) Stop() {
	o.Cancel()
	o.Wait()
}

func (o *Orchestrator) prepare(ctx context.Context, selection []int) (*session.Session, []models.FileDescriptor, error) {
	if len(selection) == 0 {
		return nil, nil, ErrEmptySelection
	}

	snap := o.catalog.Current(ctx)
	files := make([]models.FileDescriptor, 0, len(selection))
	seen := make(map[int]bool, len(selection))
	var unknown []string
	for _, id := range selection {
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := snap.ByID(id)
		if !ok {
			unknown = append(unknown, fmt.Sprint(id))
			continue
		}
		files = append(files, f)
	}
	if len(unknown) > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownFile, strings.Join(unknown, ", "))
	}

	sess, err := o.sessions.Begin(files)
	if err != nil {
		return nil, nil, err
	}
	return sess, files, nil
}

func (o *Orchestrator) execute(ctx context.Context, sess *session.Session, files []models.FileDescriptor, notify func(Event)) *Outcome {
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}
	if notify == nil {
		notify = func(Event) {}
	}
	log := o.logger.With(zap.String("session_id", sess.ID()))
	log.Info("run started", zap.Int("files", len(files)))

	emit := func(f models.FileDescriptor, st models.TestStatus, r *models.TestResult) {
		if err := sess.SetStatus(f.ID, st); err != nil {
			// Only reachable through a bug in the loop below.
			log.Error("status transition rejected", zap.Int("file_id", f.ID), zap.Error(err))
			return
		}
		notify(Event{SessionID: sess.ID(), FileID: f.ID, Path: f.Path, Status: st, Result: r})
	}

	for _, f := range files {
		emit(f, models.StatusWaiting, nil)
	}

	results := make(map[int]models.TestResult, len(files))
	var last time.Time
	for i, f := range files {
		emit(f, models.StatusRunning, nil)

		result := o.testFile(ctx, f)
		result.FileID = f.ID
		result.Timestamp = o.now().UTC()
		if result.Timestamp.Before(last) {
			result.Timestamp = last
		}
		last = result.Timestamp
		results[f.ID] = result

		if err := sess.Record(result); err != nil {
			log.Error("record result", zap.Int("file_id", f.ID), zap.Error(err))
		}
		st := terminalStatus(result)
		emit(f, st, &result)

		log.Info("file tested",
			zap.Int("file_id", f.ID),
			zap.String("path", f.Path),
			zap.String("status", string(st)),
			zap.String("error_type", result.ErrorType),
		)

		if i < len(files)-1 && ctx.Err() == nil {
			_ = o.sleep(ctx, o.cfg.InterFileDelay)
		}
	}

	outcome := o.outcome(sess, files, results)
	o.sessions.End(sess, outcome.Decision)
	log.Info("run finished", zap.Int("passed", outcome.Passed), zap.Int("total", outcome.Total))
	return outcome
}

// testFile submits one file and polls until a terminal answer, a timeout, a
// transport error or cancellation. It always returns a result.
func (o *Orchestrator) testFile(ctx context.Context, f models.FileDescriptor) models.TestResult {
	if err := ctx.Err(); err != nil {
		return cancelledResult(err)
	}

	if _, err := o.runner.Submit(ctx, f); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelledResult(ctxErr)
		}
		o.logger.Warn("submit failed", zap.Int("file_id", f.ID), zap.Error(err))
		return apiErrorResult(err)
	}

	var final *models.TestResult
	p := poll.Poller{
		Interval:    o.cfg.PollInterval,
		MaxAttempts: o.cfg.MaxAttempts,
		Sleep:       o.sleep,
	}
	attempts, err := p.Run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		resp, err := o.runner.Poll(ctx)
		if err != nil {
			return false, err
		}
		if resp.Status.Pending() {
			o.logger.Debug("pending", zap.Int("file_id", f.ID), zap.Int("attempt", attempt), zap.String("status", string(resp.Status)))
			return false, nil
		}
		if resp.Result == nil {
			return false, &runner.TransportError{Op: "poll", Err: fmt.Errorf("%s response without result", resp.Status)}
		}
		if id := resp.Result.FileID; id != 0 && id != f.ID {
			o.logger.Warn("ignoring result for another file", zap.Int("file_id", f.ID), zap.Int("result_file_id", id))
			return false, nil
		}
		final = resp.Result
		return true, nil
	})

	if err != nil {
		o.abandon(f)
	}

	switch {
	case err == nil:
		return *final
	case errors.Is(err, poll.ErrTimeout):
		o.logger.Warn("test timed out", zap.Int("file_id", f.ID), zap.Int("attempt", attempts))
		return timeoutResult(attempts, o.cfg.PollInterval)
	case ctx.Err() != nil:
		return cancelledResult(ctx.Err())
	default:
		o.logger.Warn("poll failed", zap.Int("file_id", f.ID), zap.Int("attempt", attempts), zap.Error(err))
		return apiErrorResult(err)
	}
}

// abandon stops the runner's work on a file the run has given up on, when the
// runner supports it.
func (o *Orchestrator) abandon(f models.FileDescriptor) {
	if a, ok := o.runner.(runner.Abandoner); ok {
		o.logger.Debug("abandoning file", zap.Int("file_id", f.ID), zap.String("path", f.Path))
		a.Abandon()
	}
}

func (o *Orchestrator) outcome(sess *session.Session, files []models.FileDescriptor, results map[int]models.TestResult) *Outcome {
	out := &Outcome{
		SessionID: sess.ID(),
		Order:     make([]int, 0, len(files)),
		Statuses:  make(map[int]models.TestStatus, len(files)),
		Results:   results,
		Total:     len(files),
	}

	decision := &BackupDecision{SessionID: sess.ID()}
	for _, f := range files {
		out.Order = append(out.Order, f.ID)
		out.Statuses[f.ID] = sess.Status(f.ID)
		if results[f.ID].Success {
			decision.PassedIDs = append(decision.PassedIDs, f.ID)
			decision.PassedPaths = append(decision.PassedPaths, f.Path)
		} else {
			decision.FailedIDs = append(decision.FailedIDs, f.ID)
		}
	}
	out.Passed = len(decision.PassedIDs)

	switch {
	case out.Passed == 0:
		// Nothing safe to snapshot.
	case out.Passed == out.Total:
		decision.Mode = models.BackupTypeAuto
		out.Decision = decision
	default:
		decision.Mode = models.BackupTypePartial
		out.Decision = decision
	}
	return out
}

func terminalStatus(r models.TestResult) models.TestStatus {
	switch {
	case r.ErrorType != "":
		return models.StatusError
	case r.Success:
		return models.StatusCompleted
	default:
		return models.StatusFailed
	}
}

func timeoutResult(attempts int, interval time.Duration) models.TestResult {
	return models.TestResult{
		ExitCode:  -1,
		Stdout:    "Test timeout or no response received",
		Stderr:    fmt.Sprintf("Test failed to complete within expected time (%d attempts, %s apart)", attempts, interval),
		ErrorType: models.ErrorTypeTimeout,
	}
}

func apiErrorResult(err error) models.TestResult {
	return models.TestResult{
		ExitCode:  -1,
		Stdout:    "API request failed",
		Stderr:    err.Error(),
		ErrorType: models.ErrorTypeAPI,
	}
}

func cancelledResult(err error) models.TestResult {
	return models.TestResult{
		ExitCode:  -1,
		Stdout:    "Test cancelled before completion",
		Stderr:    err.Error(),
		ErrorType: models.ErrorTypeCancelled,
	}
}
