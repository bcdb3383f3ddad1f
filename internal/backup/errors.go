package backup

import (
	"errors"
	"fmt"

	"github.com/fentz26/qgate/internal/store"
)

var (
	// ErrNotFound is returned for a backup id that does not exist or was deleted.
	ErrNotFound = store.ErrNotFound
	// ErrNothingToBackup is returned when the requested selection resolves to no files.
	ErrNothingToBackup = errors.New("nothing to back up")
	// ErrNotPassed is returned when an auto backup names a file that did not pass.
	ErrNotPassed = errors.New("file did not pass in the last run")
	// ErrUnknownFile is returned for a file id missing from the catalog or run.
	ErrUnknownFile = errors.New("unknown file id")
	// ErrInvalidMode is returned for an unknown backup mode.
	ErrInvalidMode = errors.New("invalid backup mode")
	// ErrEmptyRestore is returned when restore is called without ids.
	ErrEmptyRestore = errors.New("no backups selected for restore")
	// ErrAmbiguousRestore is returned for a multi-backup restore when ambiguous
	// restores are configured to be rejected.
	ErrAmbiguousRestore = errors.New("restore of more than one backup rejected")
)

// IntegrityError reports a backup that could not be written or read back
// intact. A failed create never leaves a visible backup behind.
type IntegrityError struct {
	BackupID string
	Path     string
	Err      error
}

func (e *IntegrityError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("backup %s: %s: %v", e.BackupID, e.Path, e.Err)
	}
	return fmt.Sprintf("backup %s: %v", e.BackupID, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// ItemError is one failed item of a bulk operation.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResult is the aggregate outcome of a best-effort bulk delete.
type BulkResult struct {
	Deleted []string    `json:"deleted"`
	Failed  []ItemError `json:"failed"`
}
