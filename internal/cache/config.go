package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config contains all cache configuration options.
type Config struct {
	// Storage layout
	CacheDir  string `yaml:"cache_dir" env:"TRACKVAULT_CACHE_DIR"`
	IndexPath string `yaml:"index_path" env:"TRACKVAULT_INDEX_PATH"`

	// Eviction policy
	MaxTotalBytes int64         `yaml:"max_total_bytes" env:"TRACKVAULT_MAX_TOTAL_BYTES" envDefault:"2147483648"`
	MaxAge        time.Duration `yaml:"max_age" env:"TRACKVAULT_MAX_AGE" envDefault:"720h"`

	// Background sweep scheduling
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"TRACKVAULT_SWEEP_INTERVAL" envDefault:"12h"`
	SweepInitialDelay time.Duration `yaml:"sweep_initial_delay" env:"TRACKVAULT_SWEEP_INITIAL_DELAY" envDefault:"6h"`

	// Coordination
	LockTablePrune int `yaml:"lock_table_prune" env:"TRACKVAULT_LOCK_TABLE_PRUNE" envDefault:"512"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheDir:          defaultCacheDir(),
		MaxTotalBytes:     2 << 30,
		MaxAge:            720 * time.Hour,
		SweepInterval:     12 * time.Hour,
		SweepInitialDelay: 6 * time.Hour,
		LockTablePrune:    512,
	}
}

// defaultCacheDir places the cache under the platform user cache directory,
// falling back to a hidden directory in the working tree.
func defaultCacheDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "trackvault")
	}
	return ".trackvault"
}

// Validate checks configuration values and fills derived fields.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory must not be empty")
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.CacheDir, "trackvault.db")
	}
	if c.MaxTotalBytes < 0 {
		return fmt.Errorf("max total bytes must be >= 0, got %d", c.MaxTotalBytes)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("max age must be >= 0, got %s", c.MaxAge)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep interval must be >= 0, got %s", c.SweepInterval)
	}
	if c.SweepInitialDelay < 0 {
		return fmt.Errorf("sweep initial delay must be >= 0, got %s", c.SweepInitialDelay)
	}
	if c.LockTablePrune < 0 {
		return fmt.Errorf("lock table prune threshold must be >= 0, got %d", c.LockTablePrune)
	}
	return nil
}
