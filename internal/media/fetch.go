package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jarpbot/trackvault/internal/cache"
)

// DownloaderConfig contains yt-dlp downloader settings.
type DownloaderConfig struct {
	Binary          string        `yaml:"binary" env:"TRACKVAULT_YTDLP_BINARY" envDefault:"yt-dlp"`
	Timeout         time.Duration `yaml:"timeout" env:"TRACKVAULT_FETCH_TIMEOUT" envDefault:"10m"`
	StartsPerMinute int           `yaml:"starts_per_minute" env:"TRACKVAULT_FETCH_STARTS_PER_MINUTE" envDefault:"20"`
}

// DefaultDownloaderConfig returns default downloader configuration.
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		Binary:          "yt-dlp",
		Timeout:         10 * time.Minute,
		StartsPerMinute: 20,
	}
}

// Downloader fetches audio with yt-dlp. It satisfies the cache's FetchFunc
// contract: the raw artifact appears at the destination path on success and
// nothing is left behind on failure. Downloads for different keys may run
// concurrently; the limiter only paces how fast new ones start.
type Downloader struct {
	cfg     DownloaderConfig
	runner  *runner
	limiter *rate.Limiter
	log     *log.Logger
}

// NewDownloader builds a downloader. The binary is not checked here; call
// Available before first use to fail fast with a useful message.
func NewDownloader(cfg DownloaderConfig, logger *log.Logger) *Downloader {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if logger == nil {
		logger = log.Default()
	}
	var limiter *rate.Limiter
	if cfg.StartsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.StartsPerMinute)), 1)
	}
	return &Downloader{
		cfg:     cfg,
		runner:  newRunner(cfg.Timeout),
		limiter: limiter,
		log:     logger,
	}
}

// Available reports whether the configured binary can be found.
func (d *Downloader) Available() error {
	return CheckBinary(d.cfg.Binary)
}

// Fetch downloads the audio behind locator to destPath and returns the
// track metadata yt-dlp reported.
func (d *Downloader) Fetch(ctx context.Context, locator, destPath string) (cache.TrackInfo, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return cache.TrackInfo{}, err
		}
	}

	// yt-dlp rewrites the output extension during audio extraction, so it
	// downloads under a private name and the result is renamed onto
	// destPath afterwards.
	workBase := filepath.Join(filepath.Dir(destPath), "dl-"+uuid.NewString())
	defer removeGlob(workBase + ".*")

	d.log.Debug("starting download", "locator", locator)
	out, err := d.runner.run(ctx, d.cfg.Binary, downloadArgs(workBase, locator)...)
	if err != nil {
		return cache.TrackInfo{}, err
	}

	produced := workBase + ".mp3"
	if _, err := os.Stat(produced); err != nil {
		return cache.TrackInfo{}, fmt.Errorf("download produced no audio file: %w", err)
	}
	if err := os.Rename(produced, destPath); err != nil {
		return cache.TrackInfo{}, fmt.Errorf("move downloaded audio: %w", err)
	}

	info := parseTrackInfo(string(out))
	d.log.Debug("download finished", "title", info.Title, "duration_s", info.DurationSeconds)
	return info, nil
}

// downloadArgs builds the yt-dlp invocation. The two --print lines emit
// title and duration on stdout while --no-simulate keeps the download
// itself running.
func downloadArgs(workBase, locator string) []string {
	return []string{
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--no-simulate",
		"--print", "%(title)s",
		"--print", "%(duration)s",
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"-o", workBase + ".%(ext)s",
		locator,
	}
}

// parseTrackInfo reads the two --print lines. Missing fields degrade to
// zero values; metadata is descriptive only.
func parseTrackInfo(out string) cache.TrackInfo {
	var info cache.TrackInfo
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > 0 {
		info.Title = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(lines[1]), 64); err == nil {
			info.DurationSeconds = int64(secs)
		}
	}
	return info
}

func removeGlob(pattern string) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}
