package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedRun() *session.View {
	return &session.View{
		ID: "s1",
		Files: []models.FileDescriptor{
			{ID: 1, Path: "a.py", Size: 10 * 1024},
			{ID: 2, Path: "b.js", Size: 60 * 1024},
		},
		Order:    []int{1, 2},
		Statuses: map[int]models.TestStatus{1: models.StatusCompleted, 2: models.StatusFailed},
		Results: map[int]models.TestResult{
			1: {FileID: 1, Success: true},
			2: {FileID: 2, ExitCode: 1},
		},
		Pending: &models.BackupDecision{
			SessionID:   "s1",
			Mode:        models.BackupTypePartial,
			PassedIDs:   []int{1},
			PassedPaths: []string{"a.py"},
			FailedIDs:   []int{2},
		},
	}
}

func newTestDaemon(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var approvals int32
	mux := http.NewServeMux()
	mux.HandleFunc("/runs/current", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(finishedRun())
	})
	mux.HandleFunc("/reports/2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("CODE QUALITY TEST REPORT\nFile: b.js\n"))
	})
	mux.HandleFunc("/runs/approve", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&approvals, 1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Backup{ID: "rollback_1", FileCount: 1})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, &approvals
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestApp_LoadsRunAndReport(t *testing.T) {
	ts, _ := newTestDaemon(t)
	app := New(ts.URL)

	msg := app.fetchRun()()
	app.Update(msg)
	require.NotNil(t, app.run)
	assert.True(t, app.daemonOnline)

	view := app.View()
	assert.Contains(t, view, "a.py")
	assert.Contains(t, view, "[finished 2/2]")
	assert.Contains(t, view, "Create a partial backup of a.py?")

	app.Update(key("down"))
	assert.Equal(t, 1, app.selectedIdx)

	_, cmd := app.Update(key("enter"))
	require.NotNil(t, cmd)
	app.Update(cmd())
	assert.Equal(t, modeReport, app.mode)
	assert.Contains(t, app.View(), "CODE QUALITY TEST REPORT")

	app.Update(key("esc"))
	assert.Equal(t, modeRun, app.mode)
}

func TestApp_ApprovePending(t *testing.T) {
	ts, approvals := newTestDaemon(t)
	app := New(ts.URL)
	app.Update(app.fetchRun()())

	_, cmd := app.Update(key("a"))
	require.NotNil(t, cmd)
	res := cmd()
	app.Update(res)
	assert.Equal(t, int32(1), atomic.LoadInt32(approvals))
	assert.Equal(t, "Backup rollback_1 created (1 files)", app.message)
}

func TestApp_NoRun(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)
	app := New(ts.URL)

	app.Update(app.fetchRun()())
	assert.Nil(t, app.run)
	assert.Contains(t, app.View(), "No test run yet")

	// Nothing to approve or cancel.
	_, cmd := app.Update(key("a"))
	assert.Nil(t, cmd)
	_, cmd = app.Update(key("c"))
	assert.Nil(t, cmd)
}

func TestApp_Quit(t *testing.T) {
	app := New("http://127.0.0.1:0")
	_, cmd := app.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
