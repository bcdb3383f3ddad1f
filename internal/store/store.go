// Package store provides SQLite-backed persistence for qgate backups and audit records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/qgate/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested backup does not exist (or was deleted).
var ErrNotFound = errors.New("backup not found")

// Store provides access to the qgate SQLite database.
type Store struct {
	db *sql.DB
}

// FileContent is one file captured inside a backup.
type FileContent struct {
	models.BackupFile
	Content []byte
}

// Stats summarises the backup store.
type Stats struct {
	Backups   int   `json:"backups"`
	Files     int   `json:"files"`
	TotalSize int64 `json:"total_size"`
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backups (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		created_at_ns INTEGER NOT NULL,
		file_count INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		size INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS backup_files (
		backup_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		content BLOB NOT NULL,
		PRIMARY KEY (backup_id, path)
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject TEXT,
		details TEXT,
		timestamp_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at_ns DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_backup_files_backup ON backup_files(backup_id, position);
	CREATE INDEX IF NOT EXISTS idx_pdr_timestamp ON pdr(timestamp_ns);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Backup Operations ---

// CreateBackup writes the manifest row and every file in a single transaction.
// On any error nothing is persisted.
func (s *Store) CreateBackup(ctx context.Context, b *models.Backup, files []FileContent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO backups (id, created_at_ns, file_count, description, type, size) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.CreatedAt.UnixNano(), b.FileCount, b.Description, string(b.Type), b.Size,
	)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}

	for i, f := range files {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO backup_files (backup_id, position, path, size, sha256, content) VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, i, f.Path, f.Size, f.SHA256, f.Content,
		)
		if err != nil {
			return fmt.Errorf("insert backup file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const backupColumns = `id, created_at_ns, file_count, description, type, size`

func scanBackup(row interface{ Scan(...any) error }) (*models.Backup, error) {
	var (
		b         models.Backup
		createdNS int64
		typ       string
	)
	if err := row.Scan(&b.ID, &createdNS, &b.FileCount, &b.Description, &typ, &b.Size); err != nil {
		return nil, err
	}
	b.CreatedAt = time.Unix(0, createdNS).UTC()
	b.Type = models.BackupType(typ)
	return &b, nil
}

// ListBackups returns every backup, newest first, with manifests loaded.
func (s *Store) ListBackups(ctx context.Context) ([]models.Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups ORDER BY created_at_ns DESC, seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}

	var backups []models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range backups {
		list, err := s.fileList(ctx, backups[i].ID)
		if err != nil {
			return nil, err
		}
		backups[i].FileList = list
	}
	return backups, nil
}

// GetBackup retrieves one backup with its manifest.
func (s *Store) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	b, err := scanBackup(s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query backup: %w", err)
	}

	b.FileList, err = s.fileList(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// LatestBackup returns the most recently created backup.
func (s *Store) LatestBackup(ctx context.Context) (*models.Backup, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM backups ORDER BY created_at_ns DESC, seq DESC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest backup: %w", err)
	}
	return s.GetBackup(ctx, id)
}

func (s *Store) fileList(ctx context.Context, backupID string) ([]models.BackupFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, sha256 FROM backup_files WHERE backup_id = ? ORDER BY position`,
		backupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query backup files: %w", err)
	}
	defer rows.Close()

	list := []models.BackupFile{}
	for rows.Next() {
		var f models.BackupFile
		if err := rows.Scan(&f.Path, &f.Size, &f.SHA256); err != nil {
			return nil, fmt.Errorf("scan backup file: %w", err)
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

// BackupContents returns the captured file bodies of a backup.
func (s *Store) BackupContents(ctx context.Context, id string) ([]FileContent, error) {
	if _, err := s.GetBackup(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, sha256, content FROM backup_files WHERE backup_id = ? ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query backup contents: %w", err)
	}
	defer rows.Close()

	var files []FileContent
	for rows.Next() {
		var f FileContent
		if err := rows.Scan(&f.Path, &f.Size, &f.SHA256, &f.Content); err != nil {
			return nil, fmt.Errorf("scan backup content: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteBackup removes a backup and its files. Unknown ids return ErrNotFound.
func (s *Store) DeleteBackup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_files WHERE backup_id = ?`, id); err != nil {
		return fmt.Errorf("delete backup files: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteAllBackups removes every backup and returns how many were deleted.
func (s *Store) DeleteAllBackups(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM backups`)
	if err != nil {
		return 0, fmt.Errorf("delete backups: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_files`); err != nil {
		return 0, fmt.Errorf("delete backup files: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return int(n), nil
}

// BackupStats returns counts and total size of stored backups.
func (s *Store) BackupStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(file_count), 0) FROM backups`,
	).Scan(&st.Backups, &st.TotalSize, &st.Files)
	if err != nil {
		return nil, fmt.Errorf("query backup stats: %w", err)
	}
	return st, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Subject:    subject,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, subject, details, timestamp_ns) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.Subject, pdr.Details, pdr.Timestamp.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent decision records, newest first.
func (s *Store) ListPDR(ctx context.Context, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, subject, details, timestamp_ns FROM pdr ORDER BY timestamp_ns DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var (
			e       models.PDREntry
			subject sql.NullString
			details sql.NullString
			tsNS    int64
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &subject, &details, &tsNS); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.Subject = subject.String
		e.Details = details.String
		e.Timestamp = time.Unix(0, tsNS).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
