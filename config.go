package docstruct

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/docstruct/merger"
	"github.com/brunobiangulo/docstruct/parser"
)

// Config holds all configuration for the docstruct engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.docstruct/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "docstruct".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.docstruct/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// DisableStore runs the engine without a database. Parse and Merge
	// work; Ingest returns ErrStoreDisabled.
	DisableStore bool `json:"disable_store" yaml:"disable_store"`

	// MaxFileSize is the largest input accepted, in bytes. Zero disables the check.
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// Concurrency bounds the parallel parses of ParseAll and Ingest.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	PDF   parser.PDFConfig `json:"pdf" yaml:"pdf"`
	Merge merger.Options   `json:"merge" yaml:"merge"`
}

// DefaultConfig returns a Config with the reconstruction and merge defaults.
// Database is stored in ~/.docstruct/docstruct.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:      "docstruct",
		StorageDir:  "home",
		MaxFileSize: 256 << 20,
		Concurrency: runtime.NumCPU(),
		PDF:         parser.DefaultPDFConfig(),
		Merge:       merger.DefaultOptions(),
	}
}

// LoadConfig reads a YAML (or JSON) file over DefaultConfig. Keys missing
// from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.MaxFileSize < 0 {
		return fmt.Errorf("%w: max_file_size must not be negative", ErrInvalidConfig)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	}
	switch c.StorageDir {
	case "", "home", "local", "cwd":
	default:
		return fmt.Errorf("%w: unknown storage_dir %q", ErrInvalidConfig, c.StorageDir)
	}
	if err := c.PDF.Validate(); err != nil {
		return fmt.Errorf("%w: pdf: %w", ErrInvalidConfig, err)
	}
	if err := c.Merge.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnv overrides fields from DOCSTRUCT_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("DOCSTRUCT_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("DOCSTRUCT_DB_NAME"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("DOCSTRUCT_STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := os.Getenv("DOCSTRUCT_DISABLE_STORE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: DOCSTRUCT_DISABLE_STORE: %w", ErrInvalidConfig, err)
		}
		c.DisableStore = b
	}
	if v := os.Getenv("DOCSTRUCT_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: DOCSTRUCT_MAX_FILE_SIZE: %w", ErrInvalidConfig, err)
		}
		c.MaxFileSize = n
	}
	if v := os.Getenv("DOCSTRUCT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: DOCSTRUCT_CONCURRENCY: %w", ErrInvalidConfig, err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("DOCSTRUCT_MERGE_ORDER"); v != "" {
		c.Merge.OrderMode = merger.OrderMode(v)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "docstruct"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".docstruct", name+".db")
	}
}
