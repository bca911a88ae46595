// Package config loads the gapq project configuration and the optional gap
// filter policy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/gapq/internal/models"
	"github.com/fentz26/gapq/internal/scheduler"
)

// DefaultPath is where gapq looks for its project config.
const DefaultPath = "gapq.yaml"

// Namespace names for the two queue pairs.
const (
	NamespaceGaps   = "gaps"
	NamespaceDedupe = "dedupe"
)

// Storage backends for the queue file.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Config holds gapq project configuration.
type Config struct {
	// KBRoot is the directory holding the knowledge base YAML records.
	KBRoot string `yaml:"kb_root"`
	// StateDir holds queue, lock and audit files unless overridden per namespace.
	StateDir string `yaml:"state_dir"`
	// Backend selects the queue storage: jsonl or sqlite.
	Backend string `yaml:"backend"`
	// Namespaces maps a namespace name to its queue/lock file pair.
	Namespaces map[string]NamespaceConfig `yaml:"namespaces"`
	// AuditDB is the SQLite file for decision records. Empty disables auditing.
	AuditDB string `yaml:"audit_db,omitempty"`
	// FilterFile points at an optional include/exclude policy.
	FilterFile string `yaml:"filter_file,omitempty"`
	// KindDirs maps a directory name under KBRoot to the kind of the records in it.
	KindDirs map[string]string `yaml:"kind_dirs"`
	// Retention lists what survives a rebuild that no longer detects it.
	Retention RetentionConfig `yaml:"retention"`
	// DefaultTTLSec is the lease TTL used when the caller gives none.
	DefaultTTLSec int `yaml:"default_ttl_sec"`
	// Log selects the process logger.
	Log LogConfig `yaml:"log"`
	// Worker configures the gapq work pool.
	Worker scheduler.Config `yaml:"worker"`
}

// NamespaceConfig is one queue data file plus its lock file.
type NamespaceConfig struct {
	Queue string `yaml:"queue"`
	Lock  string `yaml:"lock,omitempty"`
}

// RetentionConfig mirrors queue.RetentionPolicy in YAML form.
type RetentionConfig struct {
	GapTypes          []string `yaml:"gap_types"`
	KeepOperatorAdded bool     `yaml:"keep_operator_added"`
	KeepDone          bool     `yaml:"keep_done"`
	KeepLeased        bool     `yaml:"keep_leased"`
}

// LogConfig selects the slog level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		KBRoot:   "kb",
		StateDir: ".gapq",
		Backend:  BackendJSONL,
		Namespaces: map[string]NamespaceConfig{
			NamespaceGaps:   {},
			NamespaceDedupe: {},
		},
		KindDirs: map[string]string{
			"processes":      string(models.KindProcess),
			"recipes":        string(models.KindRecipe),
			"materials":      string(models.KindMaterial),
			"parts":          string(models.KindPart),
			"machines":       string(models.KindMachine),
			"resource_types": string(models.KindResourceType),
			"boms":           string(models.KindBOM),
			"seeds":          string(models.KindSeed),
		},
		Retention: RetentionConfig{
			GapTypes:          []string{string(models.GapUnresolvedRef), string(models.GapImportStub)},
			KeepOperatorAdded: true,
			KeepDone:          true,
			KeepLeased:        true,
		},
		DefaultTTLSec: 900,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Worker: *scheduler.DefaultConfig(),
	}
}

// Load reads the YAML config at path. A missing file yields the defaults.
// Values from a .env file and GAPQ_* environment variables override paths.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"GAPQ_KB_ROOT":     &c.KBRoot,
		"GAPQ_STATE_DIR":   &c.StateDir,
		"GAPQ_BACKEND":     &c.Backend,
		"GAPQ_AUDIT_DB":    &c.AuditDB,
		"GAPQ_FILTER_FILE": &c.FilterFile,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Backend != BackendJSONL && c.Backend != BackendSQLite {
		return fmt.Errorf("invalid backend %q, must be: %s or %s", c.Backend, BackendJSONL, BackendSQLite)
	}
	if c.DefaultTTLSec < 1 {
		return fmt.Errorf("default_ttl_sec must be at least 1")
	}
	for dir, kind := range c.KindDirs {
		if _, ok := models.ParseKind(kind); !ok {
			return fmt.Errorf("kind_dirs[%s]: unknown kind %q", dir, kind)
		}
	}
	if c.Worker.Workers < 0 {
		return fmt.Errorf("worker.workers cannot be negative")
	}
	for _, t := range c.Retention.GapTypes {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("retention.gap_types contains an empty entry")
		}
	}
	return nil
}

// Paths returns the queue and lock file for a namespace. Unconfigured
// namespaces fall back to <state_dir>/<ns>.<ext> and <queue>.lock.
func (c *Config) Paths(ns string) (queuePath, lockPath string) {
	nc := c.Namespaces[ns]
	queuePath = nc.Queue
	if queuePath == "" {
		ext := ".jsonl"
		if c.Backend == BackendSQLite {
			ext = ".db"
		}
		queuePath = filepath.Join(c.StateDir, ns+ext)
	}
	lockPath = nc.Lock
	if lockPath == "" {
		lockPath = queuePath + ".lock"
	}
	return queuePath, lockPath
}

// KindMapping returns the directory-to-kind table with parsed kinds.
func (c *Config) KindMapping() map[string]models.EntityKind {
	out := make(map[string]models.EntityKind, len(c.KindDirs))
	for dir, kind := range c.KindDirs {
		out[dir] = models.EntityKind(kind)
	}
	return out
}
