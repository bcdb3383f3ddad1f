package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Catalog.CriticalCount)
	assert.Equal(t, 12, cfg.Catalog.RecommendedCount)
	assert.Equal(t, int64(50*1024), cfg.Catalog.LargeThreshold)
	assert.Equal(t, 3*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 30, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Orchestrator.InterFileDelay)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
orchestrator:
  poll_interval: 500ms
  max_attempts: 4
runner:
  mode: http
  url: http://runner.local/api
backup:
  reject_ambiguous_restore: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 4, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, "http", cfg.Runner.Mode)
	assert.True(t, cfg.Backup.RejectAmbiguousRestore)
	// untouched sections keep their defaults
	assert.Equal(t, 8, cfg.Catalog.CriticalCount)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad mode":     "runner:\n  mode: ftp\n",
		"no attempts":  "orchestrator:\n  max_attempts: 0\n",
		"http no url":  "runner:\n  mode: http\n  url: \"\"\n",
		"broken yaml":  "orchestrator: [",
		"negative cnt": "catalog:\n  critical_count: -1\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Server.Listen = "127.0.0.1:9999"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", got.Server.Listen)
}

func TestTypeForExt(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "python", cfg.TypeForExt(".py"))
	assert.Equal(t, "javascript", cfg.TypeForExt(".jsx"))
	assert.Equal(t, "css", cfg.TypeForExt(".css"))
	assert.Equal(t, "", cfg.TypeForExt(".md"))
}
