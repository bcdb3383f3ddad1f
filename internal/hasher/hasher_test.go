package hasher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.py")
	content := []byte("import os\nprint(os.getcwd())")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	meta, err := ComputeMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(content), meta.Hash)
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.Equal(t, ".py", meta.Extension)
	assert.Equal(t, 2, meta.Lines)
	assert.Contains(t, meta.MimeType, "text/plain")

	h, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, meta.Hash, h)
}

func TestComputeMetadata_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.css")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	meta, err := ComputeMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.Size)
	assert.Equal(t, 0, meta.Lines)
}

func TestComputeMetadata_Missing(t *testing.T) {
	_, err := ComputeMetadata(filepath.Join(t.TempDir(), "missing.js"))
	assert.Error(t, err)
}
