// Package config resolves todotree settings from defaults, an optional TOML
// file and the environment. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	DefaultDataDir   = "/app/data"
	DefaultAddr      = ":8000"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Config holds every setting of the server and CLI.
type Config struct {
	// DataDir is the directory holding one <id>.json file per record.
	DataDir string `toml:"data_dir"`
	// Addr is the listen address of the HTTP API.
	Addr string `toml:"addr"`
	// IndexPath is the SQLite title index. Empty disables the index.
	IndexPath string `toml:"index_path"`

	Log LogConfig `toml:"log"`
}

// LogConfig selects level and output format of the logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:   DefaultDataDir,
		Addr:      DefaultAddr,
		IndexPath: DefaultIndexPath(),
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultIndexPath is ~/.todotree/index.db, or empty when there is no home directory.
func DefaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".todotree", "index.db")
}

// Load resolves the configuration. path names a TOML file; when empty,
// TODOTREE_CONFIG is consulted. A file named explicitly must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("TODOTREE_CONFIG")
		explicit = path != ""
	}
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	loadFromEnv(&cfg)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

// loadFromEnv overrides config from environment variables. FOLDER is the
// legacy name of the data directory and loses to TODOTREE_DATA_DIR.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("FOLDER"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TODOTREE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TODOTREE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v, ok := os.LookupEnv("TODOTREE_INDEX"); ok {
		cfg.IndexPath = v
	}
	if v := os.Getenv("TODOTREE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TODOTREE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is empty")
	}
	if c.Addr == "" {
		return errors.New("config: addr is empty")
	}
	return nil
}
