// Package main provides the entry point for the trackvault CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jarpbot/trackvault/internal/cache"
	"github.com/jarpbot/trackvault/internal/media"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	logFile     string
	debug       bool
	noNormalize bool
	maxAgeFlag  time.Duration
	maxSizeFlag string
	confirmYes  bool

	rootCmd = &cobra.Command{
		Use:           "trackvault",
		Short:         "Content-addressed download cache for the jukebox bot",
		Long:          "\nTrackvault fetches remote audio at most once per track, keeps the files\nand their metadata index in agreement, and reclaims space by age and size.",
		SilenceErrors: false,
		SilenceUsage:  true,
	}

	getCmd = &cobra.Command{
		Use:   "get <url>",
		Short: "Resolve a track through the cache and print its paths",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache contents and usage",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run one eviction sweep",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached track",
		Args:  cobra.NoArgs,
		RunE:  runClear,
	}

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between the index and the files on disk",
		Args:  cobra.NoArgs,
		RunE:  runReconcile,
	}
)

// loadCacheConfig layers configuration: defaults and environment first
// (env.ParseAs), then the config file, then flags bound through viper.
func loadCacheConfig() (cache.Config, error) {
	cfg, err := env.ParseAs[cache.Config]()
	if err != nil {
		return cache.Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if v := viper.GetString("cache_dir"); v != "" {
		cfg.CacheDir = v
	}
	if v := viper.GetString("index_path"); v != "" {
		cfg.IndexPath = v
	}
	if viper.IsSet("max_total_bytes") {
		cfg.MaxTotalBytes = viper.GetInt64("max_total_bytes")
	}
	if viper.IsSet("max_age") {
		cfg.MaxAge = viper.GetDuration("max_age")
	}
	if viper.IsSet("lock_table_prune") {
		cfg.LockTablePrune = viper.GetInt("lock_table_prune")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cache.DefaultConfig().CacheDir
	}

	// CLI invocations are one-shot; the periodic sweep loop belongs to the
	// long-running bot process.
	cfg.SweepInterval = 0
	cfg.SweepInitialDelay = 0
	return cfg, nil
}

func openManager() (*cache.Manager, error) {
	cfg, err := loadCacheConfig()
	if err != nil {
		return nil, err
	}
	return cache.New(cfg, log.Default())
}

func runGet(cmd *cobra.Command, args []string) error {
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	dlCfg, err := env.ParseAs[media.DownloaderConfig]()
	if err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if v := viper.GetString("fetch.binary"); v != "" {
		dlCfg.Binary = v
	}
	if viper.IsSet("fetch.timeout") {
		dlCfg.Timeout = viper.GetDuration("fetch.timeout")
	}
	if viper.IsSet("fetch.starts_per_minute") {
		dlCfg.StartsPerMinute = viper.GetInt("fetch.starts_per_minute")
	}
	dl := media.NewDownloader(dlCfg, log.Default())
	if err := dl.Available(); err != nil {
		return err
	}

	var transform cache.TransformFunc
	if !noNormalize {
		nzCfg, err := env.ParseAs[media.NormalizerConfig]()
		if err != nil {
			return fmt.Errorf("parse environment: %w", err)
		}
		if v := viper.GetString("normalize.binary"); v != "" {
			nzCfg.Binary = v
		}
		if viper.IsSet("normalize.timeout") {
			nzCfg.Timeout = viper.GetDuration("normalize.timeout")
		}
		nz := media.NewNormalizer(nzCfg, log.Default())
		if err := nz.Available(); err != nil {
			log.Warn("normalizer unavailable, raw audio only", "err", err)
		} else {
			transform = nz.Normalize
		}
	}

	paths, hit, err := m.Resolve(cmd.Context(), args[0], dl.Fetch, transform)
	if err != nil {
		return err
	}
	if hit {
		log.Info("served from cache")
	}
	fmt.Println(paths.Primary)
	if paths.Derived != "" {
		fmt.Println(paths.Derived)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	stats, err := m.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Tracks:    %d\n", stats.EntryCount)
	fmt.Printf("Indexed:   %s\n", humanize.IBytes(uint64(stats.TotalBytes)))
	fmt.Printf("On disk:   %s\n", humanize.IBytes(uint64(stats.DiskBytes)))
	if len(stats.TopAccessed) > 0 {
		fmt.Println("\nMost played:")
		for _, e := range stats.TopAccessed {
			fmt.Printf("  %4d  %s\n", e.AccessCount, titleOrKey(e))
		}
	}
	if len(stats.Oldest) > 0 {
		fmt.Println("\nLeast recently played:")
		for _, e := range stats.Oldest {
			fmt.Printf("  %s  %s\n", humanize.Time(e.LastAccessedAt), titleOrKey(e))
		}
	}
	return nil
}

func titleOrKey(e cache.CacheEntry) string {
	if e.Title != "" {
		return e.Title
	}
	return e.Key
}

func runSweep(cmd *cobra.Command, _ []string) error {
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	policy := cache.EvictionPolicy{MaxAge: maxAgeFlag}
	if maxSizeFlag != "" {
		limit, err := humanize.ParseBytes(maxSizeFlag)
		if err != nil {
			return fmt.Errorf("invalid --max-bytes value %q: %w", maxSizeFlag, err)
		}
		policy.MaxTotalBytes = int64(limit)
	}

	result, err := m.Evict(cmd.Context(), policy)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d tracks, freed %s\n", result.RemovedCount, humanize.IBytes(uint64(result.BytesFreed)))
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !confirmYes {
		return fmt.Errorf("refusing to clear the cache without --yes")
	}
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	freed, err := m.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Cleared cache, freed %s\n", humanize.IBytes(uint64(freed)))
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	result, err := m.Reconcile(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d orphan files, %d ghost records, %d temp files\n",
		result.OrphanFiles, result.GhostRecords, result.TempFiles)
	return nil
}

// setupLog configures the global logger: level from --debug or the config
// file, optional rotating file output via lumberjack.
func setupLog() (func() error, error) {
	if debug || viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.SetReportTimestamp(true)

	target := logFile
	if target == "" {
		target = viper.GetString("log_file")
	}
	if target == "" {
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rotating := &lumberjack.Logger{
		Filename:   target,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.SetOutput(rotating)
	return rotating.Close, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	getCmd.Flags().BoolVar(&noNormalize, "no-normalize", false, "skip loudness normalization")
	sweepCmd.Flags().DurationVar(&maxAgeFlag, "max-age", 0, "evict tracks idle longer than this (default from config)")
	sweepCmd.Flags().StringVar(&maxSizeFlag, "max-bytes", "", "evict down to this total size, e.g. 1.5GiB (default from config)")
	clearCmd.Flags().BoolVar(&confirmYes, "yes", false, "confirm removing every cached track")

	_ = viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(getCmd, statsCmd, sweepCmd, clearCmd, reconcileCmd, configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "trackvault")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "trackvault")}, dirs...)
	}

	if c := os.Getenv("TRACKVAULT_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("trackvault")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("trackvault")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "trackvault.yml")
	}
}
