// Package backup creates, lists, restores and deletes rollback points of
// workspace files. Backups are only ever created on explicit request.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/qgate/internal/audit"
	"github.com/fentz26/qgate/internal/catalog"
	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/hasher"
	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/session"
	"github.com/fentz26/qgate/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is the backup storage.
type Repository interface {
	CreateBackup(ctx context.Context, b *models.Backup, files []store.FileContent) error
	ListBackups(ctx context.Context) ([]models.Backup, error)
	GetBackup(ctx context.Context, id string) (*models.Backup, error)
	BackupContents(ctx context.Context, id string) ([]store.FileContent, error)
	DeleteBackup(ctx context.Context, id string) error
	DeleteAllBackups(ctx context.Context) (int, error)
	BackupStats(ctx context.Context) (*store.Stats, error)
}

// Catalog is the workspace view backups are taken from and restored into.
type Catalog interface {
	Root() string
	Current(ctx context.Context) *catalog.Snapshot
	MarkStale()
}

// RestoreResult names the backup that was applied. Only one backup is ever
// applied, even when several were selected.
type RestoreResult struct {
	Restored     string   `json:"restored_backup"`
	Selected     int      `json:"selected_count"`
	Skipped      []string `json:"skipped_backups"`
	FilesWritten []string `json:"files_written"`
}

// Manager is the backup/rollback manager.
type Manager struct {
	repo     Repository
	catalog  Catalog
	sessions *session.Store
	pdr      *audit.PDRWriter
	cfg      config.BackupConfig
	logger   *zap.Logger
	now      func() time.Time

	// writeMu serializes every mutation of the backup store.
	writeMu sync.Mutex
}

// New creates a manager.
func New(repo Repository, cat Catalog, sessions *session.Store, pdr *audit.PDRWriter, cfg config.BackupConfig, logger *zap.Logger) *Manager {
	return &Manager{
		repo:     repo,
		catalog:  cat,
		sessions: sessions,
		pdr:      pdr,
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("backup"),
		now:      time.Now,
	}
}

// CreateBackup backs up fileIDs. For manual backups the ids refer to the
// current catalog snapshot. For partial and auto backups they refer to the last
// finished run: partial keeps exactly the passed subset, auto requires every
// file to have passed. An empty id list means every file of that run.
func (m *Manager) CreateBackup(ctx context.Context, fileIDs []int, description string, mode models.BackupType) (*models.Backup, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	var (
		files []models.FileDescriptor
		err   error
	)
	if mode == models.BackupTypeManual {
		files, err = m.resolveSnapshot(ctx, fileIDs)
	} else {
		files, err = m.resolveRun(fileIDs, mode, "")
	}
	if err != nil {
		return nil, err
	}
	return m.create(ctx, files, description, mode)
}

// Approve creates the backup for the pending decision of the last run. An
// empty sessionID approves whatever decision is pending.
func (m *Manager) Approve(ctx context.Context, sessionID, description string) (*models.Backup, error) {
	d, err := m.sessions.TakePending(sessionID)
	if err != nil {
		return nil, err
	}

	files, err := m.resolveRun(d.PassedIDs, d.Mode, d.SessionID)
	if err == nil {
		var b *models.Backup
		b, err = m.create(ctx, files, description, d.Mode)
		if err == nil {
			m.record(audit.ActionBackupApprove, d, audit.OutcomeSuccess, b.ID, "")
			return b, nil
		}
	}

	m.sessions.RestorePending(d)
	m.record(audit.ActionBackupApprove, d, audit.OutcomeFailure, d.SessionID, err.Error())
	return nil, err
}

// Dismiss drops the pending decision without backing anything up.
func (m *Manager) Dismiss(sessionID string) error {
	d, err := m.sessions.TakePending(sessionID)
	if err != nil {
		return err
	}
	m.record(audit.ActionBackupDismiss, d, audit.OutcomeSuccess, d.SessionID, "")
	m.logger.Info("backup decision dismissed", zap.String("session_id", d.SessionID))
	return nil
}

func (m *Manager) resolveSnapshot(ctx context.Context, ids []int) ([]models.FileDescriptor, error) {
	if len(ids) == 0 {
		return nil, ErrNothingToBackup
	}
	snap := m.catalog.Current(ctx)
	files := make([]models.FileDescriptor, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := snap.ByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownFile, id)
		}
		files = append(files, f)
	}
	return files, nil
}

// resolveRun maps ids onto the files of the last finished run. Paths are taken
// from the run itself, since catalog ids may have been reassigned since.
func (m *Manager) resolveRun(ids []int, mode models.BackupType, sessionID string) ([]models.FileDescriptor, error) {
	view, ok := m.sessions.LastFinished()
	if !ok {
		return nil, fmt.Errorf("%w: no finished test run", ErrNothingToBackup)
	}
	if sessionID != "" && view.ID != sessionID {
		return nil, fmt.Errorf("%w: run %s is no longer the latest", session.ErrNoPendingDecision, sessionID)
	}
	if len(ids) == 0 {
		ids = view.Order
	}

	var files []models.FileDescriptor
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := view.File(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d not in run %s", ErrUnknownFile, id, view.ID)
		}
		passed := view.Results[id].Success
		switch {
		case passed:
			files = append(files, f)
		case mode == models.BackupTypeAuto:
			return nil, fmt.Errorf("%w: %s", ErrNotPassed, f.Path)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no passed files in run %s", ErrNothingToBackup, view.ID)
	}
	return files, nil
}

func (m *Manager) create(ctx context.Context, files []models.FileDescriptor, description string, mode models.BackupType) (*models.Backup, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	now := m.now().UTC()
	b := &models.Backup{
		ID:          newBackupID(now),
		CreatedAt:   now,
		Description: description,
		Type:        mode,
		FileList:    make([]models.BackupFile, 0, len(files)),
	}
	if b.Description == "" {
		b.Description = defaultDescription(mode, len(files))
	}

	root := m.catalog.Root()
	contents := make([]store.FileContent, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, &IntegrityError{BackupID: b.ID, Path: f.Path, Err: err}
		}
		entry := models.BackupFile{Path: f.Path, Size: int64(len(data)), SHA256: hasher.HashBytes(data)}
		contents = append(contents, store.FileContent{BackupFile: entry, Content: data})
		b.FileList = append(b.FileList, entry)
		b.Size += entry.Size
	}
	b.FileCount = len(b.FileList)

	if err := m.repo.CreateBackup(ctx, b, contents); err != nil {
		m.record(audit.ActionBackupCreate, b.FileList, audit.OutcomeFailure, b.ID, err.Error())
		return nil, &IntegrityError{BackupID: b.ID, Err: err}
	}

	m.record(audit.ActionBackupCreate, b.FileList, audit.OutcomeSuccess, b.ID, b.Description)
	m.logger.Info("backup created",
		zap.String("backup_id", b.ID),
		zap.String("type", string(b.Type)),
		zap.Int("files", b.FileCount),
		zap.Int64("size", b.Size),
	)
	return b, nil
}

// ListBackups returns every backup, newest first.
func (m *Manager) ListBackups(ctx context.Context) ([]models.Backup, error) {
	list, err := m.repo.ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Backup{}
	}
	return list, nil
}

// GetBackup returns one backup.
func (m *Manager) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	return m.repo.GetBackup(ctx, id)
}

// Restore applies the newest of the selected backups and reports which one
// that was. Every id must exist. When ambiguous restores are rejected by
// configuration, selecting more than one backup fails instead.
func (m *Manager) Restore(ctx context.Context, ids []string) (*RestoreResult, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, ErrEmptyRestore
	}
	if m.cfg.RejectAmbiguousRestore && len(ids) > 1 {
		return nil, fmt.Errorf("%w: %d backups selected", ErrAmbiguousRestore, len(ids))
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	all, err := m.repo.ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	// all is newest first, so the first match wins.
	result := &RestoreResult{Selected: len(ids), Skipped: []string{}, FilesWritten: []string{}}
	for _, b := range all {
		if !wanted[b.ID] {
			continue
		}
		delete(wanted, b.ID)
		if result.Restored == "" {
			result.Restored = b.ID
		} else {
			result.Skipped = append(result.Skipped, b.ID)
		}
	}
	if len(wanted) > 0 {
		var errs []error
		for _, id := range ids {
			if wanted[id] {
				errs = append(errs, fmt.Errorf("%w: %s", ErrNotFound, id))
			}
		}
		return nil, errors.Join(errs...)
	}

	files, err := m.repo.BackupContents(ctx, result.Restored)
	if err != nil {
		return nil, err
	}

	// Verify everything before touching the workspace.
	root := m.catalog.Root()
	targets := make([]string, len(files))
	for i, f := range files {
		if hasher.HashBytes(f.Content) != f.SHA256 {
			return nil, &IntegrityError{BackupID: result.Restored, Path: f.Path, Err: errors.New("content does not match manifest hash")}
		}
		target, err := workspacePath(root, f.Path)
		if err != nil {
			return nil, &IntegrityError{BackupID: result.Restored, Path: f.Path, Err: err}
		}
		targets[i] = target
	}

	for i, f := range files {
		if err := writeFileAtomic(targets[i], f.Content); err != nil {
			m.record(audit.ActionBackupRestore, ids, audit.OutcomeFailure, result.Restored, err.Error())
			return nil, &IntegrityError{BackupID: result.Restored, Path: f.Path, Err: err}
		}
		result.FilesWritten = append(result.FilesWritten, f.Path)
	}
	m.catalog.MarkStale()

	m.record(audit.ActionBackupRestore, ids, audit.OutcomeSuccess, result.Restored,
		fmt.Sprintf("%d files restored, %d backups skipped", len(result.FilesWritten), len(result.Skipped)))
	m.logger.Info("backup restored",
		zap.String("backup_id", result.Restored),
		zap.Int("selected", result.Selected),
		zap.Int("files", len(result.FilesWritten)),
	)
	return result, nil
}

// DeleteBackup removes one backup. A missing or already deleted id returns ErrNotFound.
func (m *Manager) DeleteBackup(ctx context.Context, id string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.deleteLocked(ctx, id)
}

func (m *Manager) deleteLocked(ctx context.Context, id string) error {
	if err := m.repo.DeleteBackup(ctx, id); err != nil {
		m.record(audit.ActionBackupDelete, id, audit.OutcomeFailure, id, err.Error())
		return err
	}
	m.record(audit.ActionBackupDelete, id, audit.OutcomeSuccess, id, "")
	m.logger.Info("backup deleted", zap.String("backup_id", id))
	return nil
}

// BulkDelete deletes every id it can. Failures do not stop the remaining
// deletions; they are listed in the result and joined into the returned error.
func (m *Manager) BulkDelete(ctx context.Context, ids []string) (*BulkResult, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	result := &BulkResult{Deleted: []string{}, Failed: []ItemError{}}
	var errs []error
	for _, id := range dedupe(ids) {
		if err := m.deleteLocked(ctx, id); err != nil {
			result.Failed = append(result.Failed, ItemError{ID: id, Error: err.Error()})
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return result, errors.Join(errs...)
}

// Cleanup deletes every backup and returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	n, err := m.repo.DeleteAllBackups(ctx)
	if err != nil {
		m.record(audit.ActionBackupCleanup, nil, audit.OutcomeFailure, "", err.Error())
		return 0, err
	}
	m.record(audit.ActionBackupCleanup, nil, audit.OutcomeSuccess, "", fmt.Sprintf("%d backups deleted", n))
	m.logger.Info("backups cleaned up", zap.Int("deleted", n))
	return n, nil
}

// Stats summarises the backup store.
func (m *Manager) Stats(ctx context.Context) (*store.Stats, error) {
	return m.repo.BackupStats(ctx)
}

func (m *Manager) record(action string, inputs interface{}, outcome, subject, details string) {
	if _, err := m.pdr.Record(action, inputs, outcome, subject, details); err != nil {
		m.logger.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func newBackupID(t time.Time) string {
	return "rollback_" + t.Format("20060102_150405") + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func defaultDescription(mode models.BackupType, n int) string {
	switch mode {
	case models.BackupTypeAuto:
		return fmt.Sprintf("Approved backup after all %d files passed", n)
	case models.BackupTypePartial:
		return fmt.Sprintf("Partial backup of %d passed files", n)
	default:
		return fmt.Sprintf("Manual backup of %d files", n)
	}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
