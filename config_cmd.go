package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# where cached audio and the index live (default: platform cache dir)
# cache_dir: "/var/lib/trackvault"
# index_path: "/var/lib/trackvault/trackvault.db"

# keep total cached audio under this many bytes
max_total_bytes: 2147483648
# evict tracks idle longer than this
max_age: "720h"

# periodic sweep scheduling (long-running processes only)
sweep_interval: "12h"
sweep_initial_delay: "6h"

# idle per-track locks retained before pruning the lock table
lock_table_prune: 512

# verbose logging
debug: false
# rotated log file (empty logs to stderr)
log_file: ""

# yt-dlp download settings
fetch:
  binary: "yt-dlp"
  timeout: "10m"
  starts_per_minute: 20

# ffmpeg loudness normalization settings
normalize:
  binary: "ffmpeg"
  timeout: "5m"
  target_lufs: -14
  true_peak: -1.5
  range: 11
  sample_rate: 44100
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the trackvault config file",
	Long:    "\nEdit the trackvault config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "trackvault config\ntrackvault config --config path/to/trackvault.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Trackvault", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o600); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("could not stat configuration file: %w", err)
	}
	return nil
}
