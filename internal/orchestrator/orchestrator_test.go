package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/qgate/internal/catalog"
	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/connectors"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/poll"
	"github.com/fentz26/qgate/internal/runner"
	"github.com/fentz26/qgate/internal/session"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type step struct {
	resp runner.PollResponse
	err  error
}

func pending() step { return step{resp: runner.PollResponse{Status: runner.PollRunning}} }

func done(success bool) step {
	st := runner.PollCompleted
	if !success {
		st = runner.PollFailed
	}
	return step{resp: runner.PollResponse{Status: st, Result: &models.TestResult{
		Success:  success,
		Stdout:   "analyzer output",
		ExitCode: map[bool]int{true: 0, false: 1}[success],
	}}}
}

// fakeRunner replays a scripted sequence of poll answers per path.
type fakeRunner struct {
	mu        sync.Mutex
	script    map[string][]step
	submitErr map[string]error
	current   string
	submitted []string
	active    int
	maxActive int

	// blockPoll makes Poll wait for release or ctx cancellation.
	blockPoll bool
	polling   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		script:    map[string][]step{},
		submitErr: map[string]error{},
		polling:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (f *fakeRunner) Submit(ctx context.Context, file models.FileDescriptor) (runner.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, file.Path)
	if err := f.submitErr[file.Path]; err != nil {
		return runner.SubmitResponse{}, err
	}
	f.current = file.Path
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	return runner.SubmitResponse{Status: runner.SubmitQueued}, nil
}

func (f *fakeRunner) Poll(ctx context.Context) (runner.PollResponse, error) {
	if f.blockPoll {
		f.once.Do(func() { close(f.polling) })
		select {
		case <-f.release:
		case <-ctx.Done():
			return runner.PollResponse{}, &runner.TransportError{Op: "poll", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	steps := f.script[f.current]
	if len(steps) == 0 {
		return runner.PollResponse{Status: runner.PollRunning}, nil
	}
	s := steps[0]
	if len(steps) > 1 {
		f.script[f.current] = steps[1:]
	}
	if s.err != nil || !s.resp.Status.Pending() {
		f.active--
	}
	return s.resp, s.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// newScenario builds the A(10KB python), B(60KB js), C(5KB css) workspace.
func newScenario(t *testing.T, r runner.Runner) (*Orchestrator, *session.Store) {
	t.Helper()
	root := t.TempDir()
	for rel, size := range map[string]int{"a.py": 10 * 1024, "b.js": 60 * 1024, "c.css": 5 * 1024} {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(strings.Repeat("x", size)), 0o644))
	}
	cfg := config.Default()
	resolver := catalog.New(root, cfg.Workspace, nil)
	resolver.ListFiles(context.Background())

	sessions := session.NewStore()
	o := New(resolver, r, sessions, cfg.Orchestrator, nil)
	o.sleep = noSleep
	o.now = (&fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}).Now
	return o, sessions
}

func TestRunTests_ScenarioPartialDecision(t *testing.T) {
	defer goleak.VerifyNone(t)

	fr := newFakeRunner()
	fr.script["a.py"] = []step{pending(), done(true)}
	fr.script["b.js"] = []step{pending(), pending(), done(false)}
	fr.script["c.css"] = []step{done(true)}
	o, sessions := newScenario(t, fr)

	outcome, err := o.RunTests(context.Background(), []int{1, 2, 3}, nil)
	require.NoError(t, err)

	want := map[int]models.TestStatus{1: models.StatusCompleted, 2: models.StatusFailed, 3: models.StatusCompleted}
	if diff := cmp.Diff(want, outcome.Statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, outcome.Passed)
	assert.Equal(t, 3, outcome.Total)
	require.NotNil(t, outcome.Decision)
	assert.Equal(t, models.BackupTypePartial, outcome.Decision.Mode)
	assert.Equal(t, []int{1, 3}, outcome.Decision.PassedIDs)
	assert.Equal(t, []string{"a.py", "c.css"}, outcome.Decision.PassedPaths)
	assert.Equal(t, []int{2}, outcome.Decision.FailedIDs)

	assert.Equal(t, []string{"a.py", "b.js", "c.css"}, fr.submitted)
	assert.Equal(t, 1, fr.maxActive, "files must never be tested concurrently")

	pendingDecision, ok := sessions.Pending()
	require.True(t, ok)
	assert.Equal(t, outcome.SessionID, pendingDecision.SessionID)
	assert.False(t, sessions.Active())
}

func TestRunTests_TerminalStatusesAndOrderedTimestamps(t *testing.T) {
	fr := newFakeRunner()
	fr.script["a.py"] = []step{done(true)}
	fr.script["b.js"] = []step{{err: &runner.TransportError{Op: "poll", Err: errors.New("connection reset")}}}
	// c.css never answers and times out.
	o, _ := newScenario(t, fr)
	o.cfg.MaxAttempts = 4

	outcome, err := o.RunTests(context.Background(), []int{1, 2, 3}, nil)
	require.NoError(t, err)
	require.Len(t, outcome.Statuses, 3)
	for id, st := range outcome.Statuses {
		assert.True(t, st.Terminal(), "file %d ended in %s", id, st)
		r, ok := outcome.Results[id]
		require.True(t, ok, "file %d has a status but no result", id)
		if st != models.StatusCompleted {
			assert.NotEmpty(t, r.Stderr+r.Stdout, "failure of file %d carries no payload", id)
		}
	}

	for i := 0; i < len(outcome.Order)-1; i++ {
		a, b := outcome.Results[outcome.Order[i]], outcome.Results[outcome.Order[i+1]]
		assert.False(t, b.Timestamp.Before(a.Timestamp), "result %d is older than result %d", i+1, i)
	}

	api := outcome.Results[2]
	assert.Equal(t, models.StatusError, outcome.Statuses[2])
	assert.Equal(t, models.ErrorTypeAPI, api.ErrorType)
	assert.Equal(t, "API request failed", api.Stdout)
	assert.Contains(t, api.Stderr, "connection reset")

	timeout := outcome.Results[3]
	assert.Equal(t, models.StatusError, outcome.Statuses[3])
	assert.Equal(t, models.ErrorTypeTimeout, timeout.ErrorType)
	assert.Equal(t, -1, timeout.ExitCode)
	assert.Equal(t, "Test timeout or no response received", timeout.Stdout)
}

func TestRunTests_NoPassNoDecision(t *testing.T) {
	fr := newFakeRunner()
	fr.script["a.py"] = []step{done(false)}
	fr.submitErr["b.js"] = &runner.TransportError{Op: "submit", StatusCode: 500, Err: errors.New("boom")}
	o, sessions := newScenario(t, fr)

	outcome, err := o.RunTests(context.Background(), []int{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Passed)
	assert.Nil(t, outcome.Decision)
	_, ok := sessions.Pending()
	assert.False(t, ok)
	assert.Equal(t, models.ErrorTypeAPI, outcome.Results[2].ErrorType)
}

func TestRunTests_AllPassedIsAutoDecision(t *testing.T) {
	fr := newFakeRunner()
	fr.script["a.py"] = []step{done(true)}
	fr.script["c.css"] = []step{done(true)}
	o, _ := newScenario(t, fr)

	outcome, err := o.RunTests(context.Background(), []int{3, 1}, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Decision)
	assert.Equal(t, models.BackupTypeAuto, outcome.Decision.Mode)
	assert.Equal(t, []int{3, 1}, outcome.Decision.PassedIDs)
	assert.Equal(t, []string{"c.css", "a.py"}, fr.submitted)
}

func TestRunTests_Notifications(t *testing.T) {
	fr := newFakeRunner()
	fr.script["a.py"] = []step{done(true)}
	fr.script["b.js"] = []step{done(false)}
	o, _ := newScenario(t, fr)

	var got []string
	_, err := o.RunTests(context.Background(), []int{1, 2}, func(ev Event) {
		got = append(got, ev.Path+":"+string(ev.Status))
	})
	require.NoError(t, err)

	want := []string{
		"a.py:waiting", "b.js:waiting",
		"a.py:running", "a.py:completed",
		"b.js:running", "b.js:failed",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRunTests_SelectionErrors(t *testing.T) {
	o, sessions := newScenario(t, newFakeRunner())

	_, err := o.RunTests(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = o.RunTests(context.Background(), []int{1, 42}, nil)
	assert.ErrorIs(t, err, ErrUnknownFile)
	assert.Contains(t, err.Error(), "42")
	assert.False(t, sessions.Active(), "a rejected selection must not start a session")
}

func TestRunTests_RejectsConcurrentRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	fr := newFakeRunner()
	fr.blockPoll = true
	fr.script["a.py"] = []step{done(true)}
	o, _ := newScenario(t, fr)

	_, err := o.Start([]int{1}, nil)
	require.NoError(t, err)
	<-fr.polling

	_, err = o.RunTests(context.Background(), []int{2}, nil)
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = o.Start([]int{2}, nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(fr.release)
	o.Wait()
	assert.Equal(t, []string{"a.py"}, fr.submitted)
}

func TestStart_CancelMarksRemainingCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	fr := newFakeRunner()
	fr.blockPoll = true
	o, sessions := newScenario(t, fr)

	var mu sync.Mutex
	var events []Event
	_, err := o.Start([]int{1, 2, 3}, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	<-fr.polling
	o.Stop()

	view, ok := sessions.LastFinished()
	require.True(t, ok)
	for _, id := range []int{1, 2, 3} {
		assert.Equal(t, models.StatusError, view.Statuses[id])
		assert.Equal(t, models.ErrorTypeCancelled, view.Results[id].ErrorType)
	}
	assert.Equal(t, []string{"a.py"}, fr.submitted, "no file may be submitted after cancellation")

	mu.Lock()
	defer mu.Unlock()
	last := events[len(events)-1]
	assert.Equal(t, models.StatusError, last.Status)
	require.NotNil(t, last.Result)
}

func TestRunTests_RunTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	fr := newFakeRunner()
	fr.blockPoll = true
	o, _ := newScenario(t, fr)
	o.cfg.RunTimeout = 20 * time.Millisecond

	outcome, err := o.RunTests(context.Background(), []int{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ErrorTypeCancelled, outcome.Results[1].ErrorType)
	assert.Equal(t, models.ErrorTypeCancelled, outcome.Results[2].ErrorType)
	assert.Contains(t, outcome.Results[1].Stderr, context.DeadlineExceeded.Error())
}

func TestRunTests_ReTestStartsFresh(t *testing.T) {
	fr := newFakeRunner()
	fr.script["a.py"] = []step{done(false)}
	o, sessions := newScenario(t, fr)

	first, err := o.RunTests(context.Background(), []int{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, first.Statuses[1])

	fr.script["a.py"] = []step{done(true)}
	second, err := o.RunTests(context.Background(), []int{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, second.Statuses[1])
	assert.NotEqual(t, first.SessionID, second.SessionID)

	view, _ := sessions.LastFinished()
	assert.True(t, view.Results[1].Success)
}

// hangingConn never finishes analyzing the paths in hang until ctx ends.
type hangingConn struct {
	hang map[string]bool

	mu     sync.Mutex
	tested []string
}

func (c *hangingConn) Name() string                              { return "hanging" }
func (c *hangingConn) IsAllowed(cmd string, args []string) bool { return true }
func (c *hangingConn) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	path := args[len(args)-1]
	if c.hang[path] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c.mu.Lock()
	c.tested = append(c.tested, path)
	c.mu.Unlock()
	return &connectors.ExecResult{Command: cmd, Args: args}, nil
}

func TestRunTests_LocalTimeoutDoesNotBlockQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := &hangingConn{hang: map[string]bool{"a.py": true}}
	analyzers := map[string][]config.Analyzer{}
	for _, typ := range []string{models.FileTypePython, models.FileTypeJavaScript, models.FileTypeCSS} {
		analyzers[typ] = []config.Analyzer{{Name: "Check", Command: "check", Args: []string{"{file}"}}}
	}
	local := runner.NewLocal(conn, analyzers, nil)

	o, _ := newScenario(t, local)
	o.sleep = poll.Sleep
	o.cfg.PollInterval = 5 * time.Millisecond
	o.cfg.MaxAttempts = 40
	o.cfg.InterFileDelay = 0

	outcome, err := o.RunTests(context.Background(), []int{1, 2, 3}, nil)
	require.NoError(t, err)
	local.Wait()

	assert.Equal(t, models.ErrorTypeTimeout, outcome.Results[1].ErrorType)
	assert.Equal(t, models.StatusCompleted, outcome.Statuses[2])
	assert.Equal(t, models.StatusCompleted, outcome.Statuses[3])
	assert.Equal(t, []string{"b.js", "c.css"}, conn.tested)
	require.NotNil(t, outcome.Decision)
	assert.Equal(t, []int{2, 3}, outcome.Decision.PassedIDs)
}

func TestRunTests_IgnoresResultForAnotherFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	late := done(false)
	late.resp.Result.FileID = 99
	fr := newFakeRunner()
	fr.script["a.py"] = []step{late, done(true)}
	o, _ := newScenario(t, fr)

	outcome, err := o.RunTests(context.Background(), []int{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, outcome.Statuses[1])
	assert.Equal(t, 1, outcome.Results[1].FileID)
}
