// Package catalog enumerates the workspace source files that can be tested and
// resolves quick-selection presets against a catalog snapshot.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/models"
	"go.uber.org/zap"
)

// ErrStaleSnapshot is returned when ids were taken from an older snapshot.
var ErrStaleSnapshot = errors.New("catalog snapshot has changed")

// Snapshot is one immutable catalog fetch. Descriptor IDs are only meaningful
// against the snapshot that produced them.
type Snapshot struct {
	Generation uint64
	TakenAt    time.Time
	Files      []models.FileDescriptor

	byID   map[int]int
	byPath map[string]int
}

func newSnapshot(gen uint64, files []models.FileDescriptor) *Snapshot {
	s := &Snapshot{
		Generation: gen,
		TakenAt:    time.Now().UTC(),
		Files:      files,
		byID:       make(map[int]int, len(files)),
		byPath:     make(map[string]int, len(files)),
	}
	for i, f := range files {
		s.byID[f.ID] = i
		s.byPath[f.Path] = i
	}
	return s
}

// ByID looks up a descriptor by its snapshot-local id.
func (s *Snapshot) ByID(id int) (models.FileDescriptor, bool) {
	if s == nil {
		return models.FileDescriptor{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return models.FileDescriptor{}, false
	}
	return s.Files[i], true
}

// ByPath looks up a descriptor by its workspace-relative path.
func (s *Snapshot) ByPath(path string) (models.FileDescriptor, bool) {
	if s == nil {
		return models.FileDescriptor{}, false
	}
	i, ok := s.byPath[NormalizePath(path)]
	if !ok {
		return models.FileDescriptor{}, false
	}
	return s.Files[i], true
}

// Resolver scans the workspace and keeps the most recent snapshot.
type Resolver struct {
	root     string
	extTypes map[string]string
	exclude  map[string]bool
	logger   *zap.Logger

	mu         sync.RWMutex
	snapshot   *Snapshot
	generation uint64
	stale      atomic.Bool
}

// New creates a resolver for root using the workspace configuration.
func New(root string, ws config.WorkspaceConfig, logger *zap.Logger) *Resolver {
	extTypes := make(map[string]string)
	types := make([]string, 0, len(ws.Extensions))
	for typ := range ws.Extensions {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		for _, ext := range ws.Extensions[typ] {
			ext = strings.ToLower(ext)
			if _, taken := extTypes[ext]; !taken {
				extTypes[ext] = typ
			}
		}
	}

	exclude := make(map[string]bool, len(ws.ExcludeDirs))
	for _, d := range ws.ExcludeDirs {
		exclude[d] = true
	}

	return &Resolver{
		root:     root,
		extTypes: extTypes,
		exclude:  exclude,
		logger:   logging.OrNop(logger).Named("catalog"),
	}
}

// Root returns the absolute workspace root.
func (r *Resolver) Root() string {
	return r.root
}

// ListFiles scans the workspace in lexical order and replaces the current
// snapshot. Scan failures are logged and produce an empty list.
func (r *Resolver) ListFiles(ctx context.Context) []models.FileDescriptor {
	files, err := r.scan(ctx)
	if err != nil {
		r.logger.Warn("catalog scan failed", zap.String("root", r.root), zap.Error(err))
		files = []models.FileDescriptor{}
	}

	r.mu.Lock()
	r.generation++
	r.snapshot = newSnapshot(r.generation, files)
	r.mu.Unlock()
	r.stale.Store(false)

	r.logger.Debug("catalog scanned", zap.Int("files", len(files)), zap.Uint64("generation", r.generation))
	return files
}

// Scan lists the workspace like ListFiles but leaves the current snapshot and
// its ids untouched.
func (r *Resolver) Scan(ctx context.Context) ([]models.FileDescriptor, error) {
	return r.scan(ctx)
}

// Snapshot returns the current snapshot, or nil if nothing has been scanned yet.
func (r *Resolver) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Current returns the current snapshot, rescanning first when there is none or
// the watcher has marked it stale.
func (r *Resolver) Current(ctx context.Context) *Snapshot {
	if snap := r.Snapshot(); snap != nil && !r.stale.Load() {
		return snap
	}
	r.ListFiles(ctx)
	return r.Snapshot()
}

// CheckGeneration returns ErrStaleSnapshot unless gen is zero or names the
// current snapshot.
func (r *Resolver) CheckGeneration(ctx context.Context, gen uint64) error {
	if gen == 0 {
		return nil
	}
	if cur := r.Current(ctx).Generation; cur != gen {
		return fmt.Errorf("%w: ids are from generation %d, current is %d", ErrStaleSnapshot, gen, cur)
	}
	return nil
}

// MarkStale flags the snapshot for a rescan on the next Current call.
func (r *Resolver) MarkStale() {
	r.stale.Store(true)
}

// Stale reports whether the snapshot has been invalidated.
func (r *Resolver) Stale() bool {
	return r.stale.Load()
}

func (r *Resolver) scan(ctx context.Context) ([]models.FileDescriptor, error) {
	files := []models.FileDescriptor{}
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != r.root && r.exclude[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		typ, ok := r.extTypes[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		files = append(files, models.FileDescriptor{
			ID:       len(files) + 1,
			Path:     rel,
			Size:     info.Size(),
			Category: categorize(rel, typ),
			Type:     typ,
			ModTime:  info.ModTime().UTC(),
		})
		return nil
	})
	return files, err
}

// categorize prefers an explicit backend/frontend top-level directory and falls
// back to the file type.
func categorize(rel, typ string) string {
	top := rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		top = rel[:i]
	}
	switch strings.ToLower(top) {
	case "backend", "frontend":
		return strings.ToLower(top)
	}
	switch typ {
	case models.FileTypePython:
		return "backend"
	case models.FileTypeJavaScript, models.FileTypeCSS:
		return "frontend"
	}
	return "other"
}

// NormalizePath converts a user or VCS supplied path to catalog form.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.TrimPrefix(p, "/")
}
