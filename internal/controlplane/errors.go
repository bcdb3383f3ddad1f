package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/qgate/internal/backup"
	"github.com/fentz26/qgate/internal/catalog"
	"github.com/fentz26/qgate/internal/orchestrator"
	"github.com/fentz26/qgate/internal/session"
)

// Sentinel errors for control plane operations.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrNoRun          = errors.New("no test run yet")
	ErrNoResult       = errors.New("no test result for file")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNoChanges      = errors.New("no changed files match the catalog")
)

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress),
		errors.Is(err, catalog.ErrStaleSnapshot):
		return http.StatusConflict
	case errors.Is(err, backup.ErrNotFound),
		errors.Is(err, session.ErrNoPendingDecision),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNoRun),
		errors.Is(err, ErrNoResult):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNoChanges),
		errors.Is(err, orchestrator.ErrEmptySelection),
		errors.Is(err, orchestrator.ErrUnknownFile),
		errors.Is(err, catalog.ErrUnknownPreset),
		errors.Is(err, backup.ErrUnknownFile),
		errors.Is(err, backup.ErrInvalidMode),
		errors.Is(err, backup.ErrNothingToBackup),
		errors.Is(err, backup.ErrNotPassed),
		errors.Is(err, backup.ErrEmptyRestore),
		errors.Is(err, backup.ErrAmbiguousRestore):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
