// Package config loads the qgate configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level qgate configuration.
type Config struct {
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Runner       RunnerConfig       `yaml:"runner"`
	Backup       BackupConfig       `yaml:"backup"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
}

// WorkspaceConfig describes which files the catalog scans.
type WorkspaceConfig struct {
	// Root is the directory scanned and restored into. Empty means the working directory.
	Root string `yaml:"root"`
	// Extensions maps a file type to the extensions that belong to it.
	Extensions map[string][]string `yaml:"extensions"`
	// ExcludeDirs are directory names skipped at any depth.
	ExcludeDirs []string `yaml:"exclude_dirs"`
}

// CatalogConfig holds the quick-selection preset parameters.
type CatalogConfig struct {
	CriticalCount    int   `yaml:"critical_count"`
	RecommendedCount int   `yaml:"recommended_count"`
	LargeThreshold   int64 `yaml:"large_threshold"` // bytes
	Watch            bool  `yaml:"watch"`
}

// OrchestratorConfig bounds the sequential test loop.
type OrchestratorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InterFileDelay time.Duration `yaml:"inter_file_delay"`
	// RunTimeout caps a whole run. Zero disables it.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// Analyzer is one local analyzer command. "{file}" in Args is replaced by the
// absolute path of the file under test.
type Analyzer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// RunnerConfig selects the Test Runner Service implementation.
type RunnerConfig struct {
	// Mode is "http" or "local".
	Mode    string        `yaml:"mode"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// Analyzers by file type, used when Mode is "local".
	Analyzers map[string][]Analyzer `yaml:"analyzers"`
}

// BackupConfig configures the backup store.
type BackupConfig struct {
	DBPath string `yaml:"db_path"`
	// RejectAmbiguousRestore refuses multi-backup restores instead of applying the newest.
	RejectAmbiguousRestore bool `yaml:"reject_ambiguous_restore"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: WorkspaceConfig{
			Extensions: map[string][]string{
				"python":     {".py"},
				"javascript": {".js", ".jsx", ".ts", ".tsx"},
				"css":        {".css"},
			},
			ExcludeDirs: []string{".git", "node_modules", "venv", ".venv", "__pycache__", "build", "dist", ".qgate"},
		},
		Catalog: CatalogConfig{
			CriticalCount:    8,
			RecommendedCount: 12,
			LargeThreshold:   50 * 1024,
			Watch:            true,
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:   3 * time.Second,
			MaxAttempts:    30,
			InterFileDelay: time.Second,
		},
		Runner: RunnerConfig{
			Mode:    "local",
			URL:     "http://127.0.0.1:5005/api/admin/tests/code-quality",
			Timeout: 10 * time.Second,
			Analyzers: map[string][]Analyzer{
				"python": {
					{Name: "Syntax", Command: "python3", Args: []string{"-m", "py_compile", "{file}"}},
				},
				"javascript": {
					{Name: "Syntax", Command: "node", Args: []string{"--check", "{file}"}},
				},
			},
		},
		Backup: BackupConfig{
			DBPath: filepath.Join(home, ".qgate", "qgate.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7477",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadFromHome loads configuration from ~/.qgate/config.yaml.
func LoadFromHome() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), nil
	}
	return Load(filepath.Join(home, ".qgate", "config.yaml"))
}

// Save writes cfg as YAML, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Catalog.CriticalCount < 0 || c.Catalog.RecommendedCount < 0 {
		return fmt.Errorf("catalog preset counts must not be negative")
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be at least 1")
	}
	if c.Orchestrator.PollInterval < 0 || c.Orchestrator.InterFileDelay < 0 || c.Orchestrator.RunTimeout < 0 {
		return fmt.Errorf("orchestrator durations must not be negative")
	}

	switch c.Runner.Mode {
	case "local":
	case "http":
		if c.Runner.URL == "" {
			return fmt.Errorf("runner.url is required in http mode")
		}
	default:
		return fmt.Errorf("invalid runner mode %q, must be: http or local", c.Runner.Mode)
	}

	if c.Backup.DBPath == "" {
		return fmt.Errorf("backup.db_path is required")
	}
	return nil
}

// WorkspaceRoot returns the absolute workspace root.
func (c *Config) WorkspaceRoot() (string, error) {
	root := c.Workspace.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working dir: %w", err)
		}
		root = wd
	}
	return filepath.Abs(root)
}

// TypeForExt returns the file type configured for ext, or "" when none matches.
func (c *Config) TypeForExt(ext string) string {
	for typ, exts := range c.Workspace.Extensions {
		for _, e := range exts {
			if e == ext {
				return typ
			}
		}
	}
	return ""
}
