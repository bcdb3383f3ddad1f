// Package tui provides the terminal run monitor for qgate.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/session"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	fileItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(warningColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeRun    = "run"
	modeReport = "report"
)

// DefaultRefresh is how often the monitor polls the daemon.
const DefaultRefresh = time.Second

// App is the run monitor model.
type App struct {
	client       *Client
	refresh      time.Duration
	run          *session.View
	selectedIdx  int
	viewport     viewport.Model
	width        int
	height       int
	mode         string
	message      string
	daemonOnline bool
}

// New creates a new monitor for the daemon at apiAddr.
func New(apiAddr string) *App {
	return &App{
		client:   NewClient(apiAddr),
		refresh:  DefaultRefresh,
		viewport: viewport.New(80, 20),
		mode:     modeRun,
		width:    80,
		height:   24,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.fetchRun(), a.checkDaemon(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-6, 3)

	case runLoadedMsg:
		a.daemonOnline = true
		a.run = msg.run
		if a.run != nil && a.selectedIdx >= len(a.run.Files) {
			a.selectedIdx = max(0, len(a.run.Files)-1)
		}

	case reportLoadedMsg:
		a.mode = modeReport
		a.viewport.SetContent(msg.text)
		a.viewport.GotoTop()

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		return a, tea.Batch(a.fetchRun(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		return a, a.fetchRun()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	if a.mode == modeReport {
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return a, tea.Quit

	case "esc":
		if a.mode == modeReport {
			a.mode = modeRun
		}
		return a, nil
	}

	if a.mode == modeReport {
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}
	case "down", "j":
		if a.run != nil && a.selectedIdx < len(a.run.Files)-1 {
			a.selectedIdx++
		}
	case "enter":
		if f, ok := a.selected(); ok {
			if _, tested := a.run.Results[f.ID]; tested {
				return a, a.fetchReport(f.ID)
			}
			a.message = fmt.Sprintf("%s has no result yet", f.Path)
		}
	case "r":
		return a, a.fetchRun()
	case "c":
		if a.run != nil && a.run.Active {
			return a, a.command(func() (string, error) {
				return "Cancelling run...", a.client.Cancel()
			})
		}
	case "a":
		if d := a.pending(); d != nil {
			return a, a.command(func() (string, error) {
				b, err := a.client.Approve(d.SessionID)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Backup %s created (%d files)", b.ID, b.FileCount), nil
			})
		}
	case "d":
		if d := a.pending(); d != nil {
			return a, a.command(func() (string, error) {
				return "Backup decision dismissed", a.client.Dismiss(d.SessionID)
			})
		}
	}
	return a, nil
}

func (a *App) selected() (models.FileDescriptor, bool) {
	if a.run == nil || a.selectedIdx >= len(a.run.Files) {
		return models.FileDescriptor{}, false
	}
	return a.run.Files[a.selectedIdx], true
}

func (a *App) pending() *models.BackupDecision {
	if a.run == nil || a.run.Active {
		return nil
	}
	return a.run.Pending
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("qgate") + "  " + daemonStatus
	if a.run != nil {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.progress())
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	switch a.mode {
	case modeReport:
		b.WriteString(a.viewport.View())
	default:
		b.WriteString(a.renderRun(max(a.height-8, 5)))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	var status string
	switch {
	case a.mode == modeReport:
		status = " ↑↓:scroll | Esc:back | q:quit"
	case a.pending() != nil:
		status = " ↑↓:nav | Enter:report | a:approve backup | d:dismiss | q:quit"
	case a.run != nil && a.run.Active:
		status = " ↑↓:nav | Enter:report | c:cancel | q:quit"
	default:
		status = " ↑↓:nav | Enter:report | r:refresh | q:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}

func (a *App) progress() string {
	done := 0
	for _, st := range a.run.Statuses {
		if st.Terminal() {
			done++
		}
	}
	state := "finished"
	if a.run.Active {
		state = "running"
	}
	return fmt.Sprintf("[%s %d/%d]", state, done, len(a.run.Files))
}

func (a *App) renderRun(height int) string {
	if a.run == nil {
		return "\n  No test run yet. Start one with: qgate run --preset all\n"
	}

	var lines []string
	for i, f := range a.run.Files {
		st := a.run.Statuses[f.ID]
		rest := fmt.Sprintf("  %-40s %8s", f.Path, humanize.IBytes(uint64(f.Size)))
		if r, ok := a.run.Results[f.ID]; ok && r.ErrorType != "" {
			rest += "  " + r.ErrorType
		}
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+formatStatusPlain(st)+rest))
		} else {
			lines = append(lines, fileItemStyle.Render("  "+formatStatus(st)+rest))
		}
	}

	if len(lines) > height {
		start := max(0, a.selectedIdx-height/2)
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	out := strings.Join(lines, "\n") + "\n"
	if d := a.pending(); d != nil {
		prompt := fmt.Sprintf("%d of %d files passed. Create a %s backup of %s?",
			len(d.PassedIDs), len(a.run.Files), d.Mode, strings.Join(d.PassedPaths, ", "))
		out += "\n" + panelStyle.Render(prompt+"\n"+helpStyle.Render("a: approve  d: dismiss")) + "\n"
	}
	return out
}

func formatStatus(st models.TestStatus) string {
	plain := formatStatusPlain(st)
	switch st {
	case models.StatusWaiting:
		return lipgloss.NewStyle().Foreground(mutedColor).Render(plain)
	case models.StatusRunning:
		return lipgloss.NewStyle().Foreground(warningColor).Render(plain)
	case models.StatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render(plain)
	case models.StatusFailed, models.StatusError:
		return lipgloss.NewStyle().Foreground(errorColor).Render(plain)
	default:
		return plain
	}
}

func formatStatusPlain(st models.TestStatus) string {
	switch st {
	case models.StatusWaiting:
		return "○"
	case models.StatusRunning:
		return "◑"
	case models.StatusCompleted:
		return "●"
	case models.StatusFailed:
		return "✗"
	case models.StatusError:
		return "!"
	default:
		return "·"
	}
}

// --- Commands ---

func (a *App) fetchRun() tea.Cmd {
	return func() tea.Msg {
		run, err := a.client.CurrentRun()
		if errors.Is(err, ErrNoRun) {
			return runLoadedMsg{}
		}
		if err != nil {
			return errMsg{err}
		}
		return runLoadedMsg{run}
	}
}

func (a *App) fetchReport(fileID int) tea.Cmd {
	return func() tea.Msg {
		text, err := a.client.Report(fileID)
		if err != nil {
			return errMsg{err}
		}
		return reportLoadedMsg{text}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		return daemonStatusMsg{online: a.client.Ping()}
	}
}

func (a *App) command(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		msg, err := fn()
		if err != nil {
			return errMsg{err}
		}
		return commandResultMsg{msg}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type runLoadedMsg struct {
	run *session.View
}

type reportLoadedMsg struct {
	text string
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time
