// Package models defines the core domain types for qgate.
package models

import "time"

// File types recognised by the catalog scanner.
const (
	FileTypePython     = "python"
	FileTypeJavaScript = "javascript"
	FileTypeCSS        = "css"
)

// FileDescriptor is one catalog entry. ID is the 1-based scan position inside a
// single catalog snapshot and must never be persisted; Path is the durable identity.
type FileDescriptor struct {
	ID       int       `json:"id"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Category string    `json:"category"`
	Type     string    `json:"type"`
	ModTime  time.Time `json:"mod_time"`
}

// Error types attached to synthesized test results.
const (
	ErrorTypeTimeout   = "timeout"
	ErrorTypeAPI       = "api_error"
	ErrorTypeCancelled = "cancelled"
)

// CategoryResult is one analyzer section of a test run.
type CategoryResult struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	IssuesCount int    `json:"issues_count"`
	Details     string `json:"details,omitempty"`
}

// DetailedResults groups the per-category breakdown of a test run.
type DetailedResults struct {
	Categories []CategoryResult `json:"categories"`
}

// TestResult is the outcome of testing a single file.
type TestResult struct {
	FileID          int              `json:"file_id"`
	Success         bool             `json:"success"`
	Timestamp       time.Time        `json:"timestamp"`
	ExitCode        int              `json:"exit_code"`
	Stdout          string           `json:"stdout"`
	Stderr          string           `json:"stderr"`
	DetailedResults *DetailedResults `json:"detailed_results,omitempty"`
	ErrorType       string           `json:"error_type,omitempty"`
}

// BackupType distinguishes how a backup came to exist.
type BackupType string

const (
	// BackupTypeAuto is an approved backup of a run where every file passed.
	BackupTypeAuto BackupType = "auto"
	// BackupTypeManual is an operator-initiated backup of an arbitrary selection.
	BackupTypeManual BackupType = "manual"
	// BackupTypePartial is an approved backup of only the passed subset of a run.
	BackupTypePartial BackupType = "partial"
)

// Valid reports whether t is a known backup type.
func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeAuto, BackupTypeManual, BackupTypePartial:
		return true
	}
	return false
}

// BackupFile is one manifest entry.
type BackupFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Backup is an immutable rollback point.
type Backup struct {
	ID          string       `json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	FileCount   int          `json:"file_count"`
	Description string       `json:"description"`
	Type        BackupType   `json:"type"`
	Size        int64        `json:"size"`
	FileList    []BackupFile `json:"file_list"`
}

// ChangeStatus classifies a changed path.
type ChangeStatus string

const (
	ChangeAdded     ChangeStatus = "added"
	ChangeModified  ChangeStatus = "modified"
	ChangeDeleted   ChangeStatus = "deleted"
	ChangeUntracked ChangeStatus = "untracked"
)

// ChangedFileEntry is a path that differs from the current baseline.
type ChangedFileEntry struct {
	Path         string       `json:"path"`
	ChangeStatus ChangeStatus `json:"change_status"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Subject    string    `json:"subject,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BackupDecision is the pending approval raised after a run with at least one
// passing file. Nothing is backed up until an operator approves it.
type BackupDecision struct {
	SessionID   string     `json:"session_id"`
	Mode        BackupType `json:"mode"`
	PassedIDs   []int      `json:"passed_ids"`
	PassedPaths []string   `json:"passed_paths"`
	FailedIDs   []int      `json:"failed_ids"`
}
