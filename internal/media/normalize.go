package media

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// NormalizerConfig contains ffmpeg loudness normalization settings.
type NormalizerConfig struct {
	Binary     string        `yaml:"binary" env:"TRACKVAULT_FFMPEG_BINARY" envDefault:"ffmpeg"`
	Timeout    time.Duration `yaml:"timeout" env:"TRACKVAULT_NORMALIZE_TIMEOUT" envDefault:"5m"`
	TargetLUFS float64       `yaml:"target_lufs" env:"TRACKVAULT_NORMALIZE_TARGET_LUFS" envDefault:"-14"`
	TruePeak   float64       `yaml:"true_peak" env:"TRACKVAULT_NORMALIZE_TRUE_PEAK" envDefault:"-1.5"`
	Range      float64       `yaml:"range" env:"TRACKVAULT_NORMALIZE_RANGE" envDefault:"11"`
	SampleRate int           `yaml:"sample_rate" env:"TRACKVAULT_NORMALIZE_SAMPLE_RATE" envDefault:"44100"`
}

// DefaultNormalizerConfig returns default normalizer configuration.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		Binary:     "ffmpeg",
		Timeout:    5 * time.Minute,
		TargetLUFS: -14,
		TruePeak:   -1.5,
		Range:      11,
		SampleRate: 44100,
	}
}

// Normalizer produces loudness-normalized copies with ffmpeg. It satisfies
// the cache's TransformFunc contract; failures are non-fatal for callers,
// which fall back to the raw artifact.
type Normalizer struct {
	cfg    NormalizerConfig
	runner *runner
	log    *log.Logger
}

// NewNormalizer builds a normalizer. Call Available before first use to
// fail fast when ffmpeg is missing.
func NewNormalizer(cfg NormalizerConfig, logger *log.Logger) *Normalizer {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Normalizer{
		cfg:    cfg,
		runner: newRunner(cfg.Timeout),
		log:    logger,
	}
}

// Available reports whether the configured binary can be found.
func (n *Normalizer) Available() error {
	return CheckBinary(n.cfg.Binary)
}

// Normalize writes a loudness-normalized mp3 of rawPath to destPath.
func (n *Normalizer) Normalize(ctx context.Context, rawPath, destPath string) error {
	n.log.Debug("normalizing", "src", rawPath)
	if _, err := n.runner.run(ctx, n.cfg.Binary, n.args(rawPath, destPath)...); err != nil {
		os.Remove(destPath)
		return err
	}
	if _, err := os.Stat(destPath); err != nil {
		return fmt.Errorf("normalization produced no output: %w", err)
	}
	return nil
}

// args builds the ffmpeg invocation. The output format is forced to mp3
// because destinations carry a staging suffix ffmpeg would not recognize.
func (n *Normalizer) args(rawPath, destPath string) []string {
	filter := fmt.Sprintf("loudnorm=I=%g:TP=%g:LRA=%g", n.cfg.TargetLUFS, n.cfg.TruePeak, n.cfg.Range)
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", rawPath,
		"-af", filter,
		"-ar", fmt.Sprintf("%d", n.cfg.SampleRate),
		"-f", "mp3",
		destPath,
	}
}
