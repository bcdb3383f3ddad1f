// Package controlplane provides the HTTP API and service layer for qgate.
package controlplane

import (
	"context"
	"fmt"

	"github.com/fentz26/qgate/internal/backup"
	"github.com/fentz26/qgate/internal/catalog"
	"github.com/fentz26/qgate/internal/changes"
	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/orchestrator"
	"github.com/fentz26/qgate/internal/report"
	"github.com/fentz26/qgate/internal/session"
	"github.com/fentz26/qgate/internal/store"
	"go.uber.org/zap"
)

// Service provides the control plane business logic.
type Service struct {
	store    *store.Store
	catalog  *catalog.Resolver
	detector *changes.Detector
	orch     *orchestrator.Orchestrator
	sessions *session.Store
	backups  *backup.Manager
	cfg      config.CatalogConfig
	logger   *zap.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store        *store.Store
	Catalog      *catalog.Resolver
	Detector     *changes.Detector
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Store
	Backups      *backup.Manager
	CatalogCfg   config.CatalogConfig
	Logger       *zap.Logger
}

// NewService creates a new control plane service.
func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		catalog:  d.Catalog,
		detector: d.Detector,
		orch:     d.Orchestrator,
		sessions: d.Sessions,
		backups:  d.Backups,
		cfg:      d.CatalogCfg,
		logger:   logging.OrNop(d.Logger).Named("controlplane"),
	}
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Catalog ---

// ListFiles rescans the workspace and returns the new snapshot.
func (s *Service) ListFiles(ctx context.Context) *catalog.Snapshot {
	s.catalog.ListFiles(ctx)
	return s.catalog.Snapshot()
}

// Selection is the result of a quick-select preset.
type Selection struct {
	Preset     catalog.Preset          `json:"preset"`
	Generation uint64                  `json:"generation"`
	IDs        []int                   `json:"ids"`
	Files      []models.FileDescriptor `json:"files"`
}

// Select resolves a preset name or option id against the current snapshot.
func (s *Service) Select(ctx context.Context, preset string) (*Selection, error) {
	p, err := catalog.ParsePreset(preset)
	if err != nil {
		return nil, err
	}
	snap := s.catalog.Current(ctx)
	ids, err := catalog.QuickSelect(snap.Files, p, s.cfg)
	if err != nil {
		return nil, err
	}
	sel := &Selection{Preset: p, Generation: snap.Generation, IDs: ids, Files: make([]models.FileDescriptor, 0, len(ids))}
	for _, id := range ids {
		if f, ok := snap.ByID(id); ok {
			sel.Files = append(sel.Files, f)
		}
	}
	return sel, nil
}

// --- Changes ---

// Changes lists files changed since the last backup.
func (s *Service) Changes(ctx context.Context) ([]models.ChangedFileEntry, error) {
	return s.detector.ChangedSinceLastBackup(ctx)
}

// Match is the result of matching paths to the catalog.
type Match struct {
	Matched   []models.FileDescriptor `json:"matched"`
	Unmatched []string                `json:"unmatched"`
}

// MatchPaths resolves paths against the current snapshot.
func (s *Service) MatchPaths(ctx context.Context, paths []string) *Match {
	matched, unmatched := changes.MatchToCatalog(s.catalog.Current(ctx), paths)
	return &Match{Matched: matched, Unmatched: unmatched}
}

// --- Runs ---

// RunRequest selects files by explicit ids, a preset, or the changed files.
// A non-zero Generation rejects ids taken from an older catalog snapshot.
type RunRequest struct {
	FileIDs    []int  `json:"file_ids"`
	Generation uint64 `json:"generation,omitempty"`
	Preset     string `json:"preset,omitempty"`
	Changed    bool   `json:"changed,omitempty"`
}

// RunStarted acknowledges a background run.
type RunStarted struct {
	SessionID string   `json:"session_id"`
	FileIDs   []int    `json:"file_ids"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// StartRun starts a background test run.
func (s *Service) StartRun(ctx context.Context, req RunRequest) (*RunStarted, error) {
	ids := req.FileIDs
	var unmatched []string

	switch {
	case len(ids) > 0:
		if err := s.catalog.CheckGeneration(ctx, req.Generation); err != nil {
			return nil, err
		}
	case req.Preset != "":
		sel, err := s.Select(ctx, req.Preset)
		if err != nil {
			return nil, err
		}
		ids = sel.IDs
	case req.Changed:
		entries, err := s.Changes(ctx)
		if err != nil {
			return nil, err
		}
		m := s.MatchPaths(ctx, changes.Paths(entries))
		unmatched = m.Unmatched
		for _, f := range m.Matched {
			ids = append(ids, f.ID)
		}
		if len(ids) == 0 {
			return nil, ErrNoChanges
		}
	}

	sessionID, err := s.orch.Start(ids, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("run requested", zap.String("session_id", sessionID), zap.Int("files", len(ids)))
	return &RunStarted{SessionID: sessionID, FileIDs: ids, Unmatched: unmatched}, nil
}

// CurrentRun returns the active run, or the last finished one.
func (s *Service) CurrentRun() (*session.View, error) {
	v, ok := s.sessions.Current()
	if !ok {
		return nil, ErrNoRun
	}
	return v, nil
}

// CancelRun cancels the active background run.
func (s *Service) CancelRun() {
	s.orch.Cancel()
}

// Approve backs up the pending decision of the last run.
func (s *Service) Approve(ctx context.Context, sessionID, description string) (*models.Backup, error) {
	return s.backups.Approve(ctx, sessionID, description)
}

// Dismiss drops the pending decision of the last run.
func (s *Service) Dismiss(sessionID string) error {
	return s.backups.Dismiss(sessionID)
}

// Report renders the report of a file in the current or last run.
func (s *Service) Report(fileID int) (string, error) {
	v, err := s.CurrentRun()
	if err != nil {
		return "", err
	}
	f, ok := v.File(fileID)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoResult, fileID)
	}
	r, ok := v.Results[fileID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoResult, fileID)
	}
	return report.BuildReport(f, r), nil
}

// --- Backups ---

// CreateBackupRequest is a backup request for the given ids. Generation works
// as in RunRequest for manual backups.
type CreateBackupRequest struct {
	FileIDs     []int             `json:"file_ids"`
	Generation  uint64            `json:"generation,omitempty"`
	Description string            `json:"description"`
	Mode        models.BackupType `json:"mode"`
}

// CreateBackup creates a backup. Mode defaults to manual.
func (s *Service) CreateBackup(ctx context.Context, req CreateBackupRequest) (*models.Backup, error) {
	if req.Mode == "" {
		req.Mode = models.BackupTypeManual
	}
	if req.Mode == models.BackupTypeManual {
		if err := s.catalog.CheckGeneration(ctx, req.Generation); err != nil {
			return nil, err
		}
	}
	return s.backups.CreateBackup(ctx, req.FileIDs, req.Description, req.Mode)
}

// ListBackups returns backups newest first.
func (s *Service) ListBackups(ctx context.Context) ([]models.Backup, error) {
	return s.backups.ListBackups(ctx)
}

// GetBackup returns one backup.
func (s *Service) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	return s.backups.GetBackup(ctx, id)
}

// DeleteBackup deletes one backup.
func (s *Service) DeleteBackup(ctx context.Context, id string) error {
	return s.backups.DeleteBackup(ctx, id)
}

// BulkDelete deletes several backups, best effort.
func (s *Service) BulkDelete(ctx context.Context, ids []string) (*backup.BulkResult, error) {
	return s.backups.BulkDelete(ctx, ids)
}

// Restore applies the newest of the given backups.
func (s *Service) Restore(ctx context.Context, ids []string) (*backup.RestoreResult, error) {
	return s.backups.Restore(ctx, ids)
}

// Cleanup deletes every backup.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	return s.backups.Cleanup(ctx)
}

// BackupStats summarises the backup store.
func (s *Service) BackupStats(ctx context.Context) (*store.Stats, error) {
	return s.backups.Stats(ctx)
}

// Audit returns recent decision records.
func (s *Service) Audit(ctx context.Context, limit int) ([]models.PDREntry, error) {
	return s.store.ListPDR(ctx, limit)
}
