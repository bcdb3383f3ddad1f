// Package session holds the per-run status and result state of one test
// orchestration, with an explicit begin/end lifetime.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/qgate/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrRunInProgress is returned by Begin while another session is active.
	ErrRunInProgress = errors.New("a test run is already in progress")
	// ErrNotInSession is returned for a file id that is not part of the session.
	ErrNotInSession = errors.New("file is not part of this session")
	// ErrNoPendingDecision is returned when there is no backup decision to act on.
	ErrNoPendingDecision = errors.New("no pending backup decision")
)

// Session is one orchestration run. It is safe for concurrent readers while
// the orchestrator writes to it.
type Session struct {
	id        string
	startedAt time.Time

	mu       sync.RWMutex
	order    []int
	files    map[int]models.FileDescriptor
	statuses map[int]models.TestStatus
	results  map[int]models.TestResult
	endedAt  time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SetStatus moves a file to next, rejecting transitions outside the state machine.
func (s *Session) SetStatus(fileID int, next models.TestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.statuses[fileID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotInSession, fileID)
	}
	st, err := models.Transition(cur, next)
	if err != nil {
		return fmt.Errorf("file %d: %w", fileID, err)
	}
	s.statuses[fileID] = st
	return nil
}

// Status returns the current status of a file.
func (s *Session) Status(fileID int) models.TestStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[fileID]
}

// Record stores the result for a file, overwriting any earlier one.
func (s *Session) Record(result models.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.statuses[result.FileID]; !ok {
		return fmt.Errorf("%w: %d", ErrNotInSession, result.FileID)
	}
	s.results[result.FileID] = result
	return nil
}

// View is a point-in-time copy of a session.
type View struct {
	ID        string                    `json:"session_id"`
	Active    bool                      `json:"active"`
	StartedAt time.Time                 `json:"started_at"`
	EndedAt   *time.Time                `json:"ended_at,omitempty"`
	Order     []int                     `json:"order"`
	Files     []models.FileDescriptor   `json:"files"`
	Statuses  map[int]models.TestStatus `json:"statuses"`
	Results   map[int]models.TestResult `json:"results"`
	Pending   *models.BackupDecision    `json:"pending_decision,omitempty"`
}

func (s *Session) view(active bool) *View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := &View{
		ID:        s.id,
		Active:    active,
		StartedAt: s.startedAt,
		Order:     append([]int(nil), s.order...),
		Files:     make([]models.FileDescriptor, 0, len(s.order)),
		Statuses:  make(map[int]models.TestStatus, len(s.statuses)),
		Results:   make(map[int]models.TestResult, len(s.results)),
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		v.EndedAt = &ended
	}
	for _, id := range s.order {
		v.Files = append(v.Files, s.files[id])
	}
	for id, st := range s.statuses {
		v.Statuses[id] = st
	}
	for id, r := range s.results {
		v.Results[id] = r
	}
	return v
}

// File returns the descriptor of a file in the view.
func (v *View) File(fileID int) (models.FileDescriptor, bool) {
	for _, f := range v.Files {
		if f.ID == fileID {
			return f, true
		}
	}
	return models.FileDescriptor{}, false
}

// Passed returns the files whose result succeeded, in run order.
func (v *View) Passed() []models.FileDescriptor {
	var out []models.FileDescriptor
	for _, f := range v.Files {
		if r, ok := v.Results[f.ID]; ok && r.Success {
			out = append(out, f)
		}
	}
	return out
}

// Store owns the active session and remembers the last finished one.
type Store struct {
	mu      sync.Mutex
	active  *Session
	last    *Session
	pending *models.BackupDecision
	now     func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Begin starts a session for files, all in not_started. Only one session may
// be active at a time.
func (st *Store) Begin(files []models.FileDescriptor) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.active != nil {
		return nil, fmt.Errorf("%w: session %s", ErrRunInProgress, st.active.id)
	}

	s := &Session{
		id:        uuid.New().String(),
		startedAt: st.now().UTC(),
		files:     make(map[int]models.FileDescriptor, len(files)),
		statuses:  make(map[int]models.TestStatus, len(files)),
		results:   make(map[int]models.TestResult, len(files)),
	}
	for _, f := range files {
		if _, dup := s.files[f.ID]; dup {
			continue
		}
		s.order = append(s.order, f.ID)
		s.files[f.ID] = f
		s.statuses[f.ID] = models.StatusNotStarted
	}
	st.active = s
	// A new run supersedes any decision nobody acted on.
	st.pending = nil
	return s, nil
}

// End closes the active session and records an optional pending decision.
func (st *Store) End(s *Session, decision *models.BackupDecision) {
	s.mu.Lock()
	s.endedAt = st.now().UTC()
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active == s {
		st.active = nil
	}
	st.last = s
	st.pending = decision
}

// Active reports whether a session is running.
func (st *Store) Active() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active != nil
}

// Current returns the active session, or the last finished one, or false.
func (st *Store) Current() (*View, bool) {
	st.mu.Lock()
	s, active, pending := st.active, true, st.pending
	if s == nil {
		s, active = st.last, false
	}
	st.mu.Unlock()

	if s == nil {
		return nil, false
	}
	v := s.view(active)
	if !active && pending != nil && pending.SessionID == v.ID {
		d := *pending
		v.Pending = &d
	}
	return v, true
}

// LastFinished returns the most recently ended session.
func (st *Store) LastFinished() (*View, bool) {
	st.mu.Lock()
	s := st.last
	st.mu.Unlock()
	if s == nil {
		return nil, false
	}
	return s.view(false), true
}

// Pending returns the outstanding backup decision, if any.
func (st *Store) Pending() (*models.BackupDecision, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending == nil {
		return nil, false
	}
	d := *st.pending
	return &d, true
}

// TakePending removes and returns the pending decision. A non-empty sessionID
// must match the decision's session.
func (st *Store) TakePending(sessionID string) (*models.BackupDecision, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending == nil {
		return nil, ErrNoPendingDecision
	}
	if sessionID != "" && st.pending.SessionID != sessionID {
		return nil, fmt.Errorf("%w for session %s", ErrNoPendingDecision, sessionID)
	}
	d := st.pending
	st.pending = nil
	return d, nil
}

// RestorePending puts back a decision that could not be acted on, unless a
// newer one has replaced it in the meantime.
func (st *Store) RestorePending(d *models.BackupDecision) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending == nil && st.active == nil && st.last != nil && st.last.id == d.SessionID {
		st.pending = d
	}
}
