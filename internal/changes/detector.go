// Package changes computes which workspace files differ from the last backup
// baseline and maps changed paths back onto the file catalog.
package changes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fentz26/qgate/internal/catalog"
	"github.com/fentz26/qgate/internal/connectors"
	"github.com/fentz26/qgate/internal/hasher"
	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/store"
	"go.uber.org/zap"
)

// Baseline returns the most recent backup. store.ErrNotFound means there is none.
type Baseline interface {
	LatestBackup(ctx context.Context) (*models.Backup, error)
}

// Detector diffs the working set against the newest backup, or against git when
// no backup exists yet.
type Detector struct {
	catalog  *catalog.Resolver
	baseline Baseline
	vcs      connectors.Connector
	logger   *zap.Logger
}

// NewDetector creates a detector. vcs may be nil, in which case a workspace
// without backups reports no changes.
func NewDetector(r *catalog.Resolver, b Baseline, vcs connectors.Connector, logger *zap.Logger) *Detector {
	return &Detector{
		catalog:  r,
		baseline: b,
		vcs:      vcs,
		logger:   logging.OrNop(logger).Named("changes"),
	}
}

// ChangedSinceLastBackup lists the paths that differ from the baseline, sorted by
// path with one entry per path. It never modifies the workspace or the store.
func (d *Detector) ChangedSinceLastBackup(ctx context.Context) ([]models.ChangedFileEntry, error) {
	latest, err := d.baseline.LatestBackup(ctx)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Debug("no backup baseline, using version control")
		return d.fromVCS(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	return d.fromBackup(ctx, latest)
}

func (d *Detector) fromBackup(ctx context.Context, b *models.Backup) ([]models.ChangedFileEntry, error) {
	root := d.catalog.Root()
	set := newEntrySet()
	inBaseline := make(map[string]bool, len(b.FileList))

	for _, f := range b.FileList {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inBaseline[f.Path] = true

		abs := filepath.Join(root, filepath.FromSlash(f.Path))
		hash, err := hasher.HashFile(abs)
		if errors.Is(err, os.ErrNotExist) {
			set.add(f.Path, models.ChangeDeleted)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f.Path, err)
		}
		if hash != f.SHA256 {
			set.add(f.Path, models.ChangeModified)
		}
	}

	working, err := d.catalog.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	for _, f := range working {
		switch {
		case inBaseline[f.Path]:
		case f.ModTime.After(b.CreatedAt):
			set.add(f.Path, models.ChangeAdded)
		default:
			// Older than the backup but left out of it, e.g. a partial backup.
			set.add(f.Path, models.ChangeUntracked)
		}
	}

	entries := set.sorted()
	d.logger.Debug("changes against backup",
		zap.String("backup_id", b.ID), zap.Int("changed", len(entries)))
	return entries, nil
}

func (d *Detector) fromVCS(ctx context.Context) ([]models.ChangedFileEntry, error) {
	if d.vcs == nil {
		return []models.ChangedFileEntry{}, nil
	}
	res, err := d.vcs.Execute(ctx, "git", []string{"status", "--porcelain"})
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	if res.ExitCode != 0 {
		// Not a repository: nothing to compare against.
		d.logger.Info("git status failed, reporting no changes",
			zap.Int("exit_code", res.ExitCode), zap.String("stderr", strings.TrimSpace(res.Stderr)))
		return []models.ChangedFileEntry{}, nil
	}
	return ParsePorcelain(res.Stdout), nil
}

// ParsePorcelain converts `git status --porcelain` output into sorted,
// de-duplicated entries. Renames and copies report the destination path.
func ParsePorcelain(out string) []models.ChangedFileEntry {
	set := newEntrySet()
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		code, path := line[:2], line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = catalog.NormalizePath(strings.Trim(path, `"`))
		if path == "" {
			continue
		}
		set.add(path, porcelainStatus(code))
	}
	return set.sorted()
}

func porcelainStatus(code string) models.ChangeStatus {
	switch {
	case code == "??":
		return models.ChangeUntracked
	case strings.ContainsRune(code, 'D'):
		return models.ChangeDeleted
	case strings.ContainsRune(code, 'A'):
		return models.ChangeAdded
	default:
		return models.ChangeModified
	}
}

// MatchToCatalog resolves paths against a snapshot. Matched descriptors keep the
// input order; paths absent from the snapshot are returned in unmatched.
func MatchToCatalog(snap *catalog.Snapshot, paths []string) (matched []models.FileDescriptor, unmatched []string) {
	matched = []models.FileDescriptor{}
	unmatched = []string{}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		norm := catalog.NormalizePath(p)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		if f, ok := snap.ByPath(norm); ok {
			matched = append(matched, f)
		} else {
			unmatched = append(unmatched, norm)
		}
	}
	return matched, unmatched
}

// Paths extracts the path of every entry, skipping deletions which cannot be tested.
func Paths(entries []models.ChangedFileEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ChangeStatus == models.ChangeDeleted {
			continue
		}
		out = append(out, e.Path)
	}
	return out
}

// entrySet keeps the first status recorded for each path.
type entrySet map[string]models.ChangeStatus

func newEntrySet() entrySet { return make(entrySet) }

func (s entrySet) add(path string, st models.ChangeStatus) {
	if _, ok := s[path]; !ok {
		s[path] = st
	}
}

func (s entrySet) sorted() []models.ChangedFileEntry {
	out := make([]models.ChangedFileEntry, 0, len(s))
	for p, st := range s {
		out = append(out, models.ChangedFileEntry{Path: p, ChangeStatus: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
