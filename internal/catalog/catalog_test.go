package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, size int) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644))
}

// newScenarioResolver builds the A(10KB python), B(60KB js), C(5KB css) catalog.
func newScenarioResolver(t *testing.T) *Resolver {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "a.py", 10*1024)
	writeFile(t, root, "b.js", 60*1024)
	writeFile(t, root, "c.css", 5*1024)
	return New(root, config.Default().Workspace, nil)
}

func TestListFiles_ScanOrderAndMetadata(t *testing.T) {
	r := newScenarioResolver(t)
	files := r.ListFiles(context.Background())
	require.Len(t, files, 3)

	assert.Equal(t, models.FileDescriptor{ID: 1, Path: "a.py", Size: 10 * 1024, Category: "backend", Type: "python", ModTime: files[0].ModTime}, files[0])
	assert.Equal(t, "b.js", files[1].Path)
	assert.Equal(t, "javascript", files[1].Type)
	assert.Equal(t, "frontend", files[1].Category)
	assert.Equal(t, "c.css", files[2].Path)
	assert.Equal(t, 3, files[2].ID)
}

func TestListFiles_Deterministic(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"zeta.py", "backend/app.py", "frontend/src/index.jsx", "frontend/src/App.css", "alpha.ts", "README.md"} {
		writeFile(t, root, rel, 10)
	}
	writeFile(t, root, "node_modules/lib/index.js", 10)
	writeFile(t, root, "backend/__pycache__/app.py", 10)

	r := New(root, config.Default().Workspace, nil)
	first := r.ListFiles(context.Background())
	second := r.ListFiles(context.Background())
	assert.Equal(t, first, second)

	var paths []string
	for _, f := range first {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"alpha.ts", "backend/app.py", "frontend/src/App.css", "frontend/src/index.jsx", "zeta.py"}, paths)
	assert.Equal(t, uint64(2), r.Snapshot().Generation)
}

func TestListFiles_ScanFailureReturnsEmpty(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "missing"), config.Default().Workspace, nil)
	files := r.ListFiles(context.Background())
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestSnapshotLookups(t *testing.T) {
	r := newScenarioResolver(t)
	snap := r.Current(context.Background())
	require.NotNil(t, snap)

	f, ok := snap.ByID(2)
	require.True(t, ok)
	assert.Equal(t, "b.js", f.Path)

	f, ok = snap.ByPath("./c.css")
	require.True(t, ok)
	assert.Equal(t, 3, f.ID)

	_, ok = snap.ByID(42)
	assert.False(t, ok)
}

func TestCurrent_RescansWhenStale(t *testing.T) {
	r := newScenarioResolver(t)
	first := r.Current(context.Background())
	assert.Same(t, first, r.Current(context.Background()))

	writeFile(t, r.Root(), "d.py", 1)
	r.MarkStale()
	second := r.Current(context.Background())
	assert.NotSame(t, first, second)
	assert.Len(t, second.Files, 4)
	assert.False(t, r.Stale())
}

func TestScan_LeavesSnapshotAlone(t *testing.T) {
	r := newScenarioResolver(t)
	r.ListFiles(context.Background())
	before := r.Snapshot()

	writeFile(t, r.Root(), "0.py", 1)
	files, err := r.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 4)
	assert.Same(t, before, r.Snapshot())
}

func TestCheckGeneration(t *testing.T) {
	r := newScenarioResolver(t)
	r.ListFiles(context.Background())
	gen := r.Snapshot().Generation

	assert.NoError(t, r.CheckGeneration(context.Background(), 0))
	assert.NoError(t, r.CheckGeneration(context.Background(), gen))

	r.ListFiles(context.Background())
	err := r.CheckGeneration(context.Background(), gen)
	assert.True(t, errors.Is(err, ErrStaleSnapshot))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "backend/app.py", NormalizePath(`.\backend\app.py`))
	assert.Equal(t, "frontend/a.js", NormalizePath("./frontend/a.js "))
	assert.Equal(t, "a.css", NormalizePath("/a.css"))
}
