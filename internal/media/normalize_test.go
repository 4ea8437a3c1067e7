package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func fakeFfmpeg(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

// The destination is ffmpeg's final argument.
const workingFfmpeg = `#!/bin/sh
for last; do :; done
printf 'normalized bytes' > "$last"
`

func TestNewNormalizer_Defaults(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{}, nil)
	if n.cfg.Binary != "ffmpeg" {
		t.Errorf("Binary = %s, want ffmpeg", n.cfg.Binary)
	}
}

func TestNormalizerArgs(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig(), log.New(io.Discard))
	args := n.args("/cache/audio/x.mp3", "/cache/normalized/x_normalized.mp3.tmp")

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-i /cache/audio/x.mp3",
		"-af loudnorm=I=-14:TP=-1.5:LRA=11",
		"-ar 44100",
		"-f mp3",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/cache/normalized/x_normalized.mp3.tmp" {
		t.Errorf("destination not the final argument: %s", args[len(args)-1])
	}
}

func TestNormalizerArgs_CustomLoudness(t *testing.T) {
	cfg := DefaultNormalizerConfig()
	cfg.TargetLUFS = -16
	cfg.TruePeak = -2
	cfg.Range = 9
	cfg.SampleRate = 48000
	n := NewNormalizer(cfg, log.New(io.Discard))

	joined := strings.Join(n.args("in", "out"), " ")
	if !strings.Contains(joined, "loudnorm=I=-16:TP=-2:LRA=9") {
		t.Errorf("filter not built from config: %s", joined)
	}
	if !strings.Contains(joined, "-ar 48000") {
		t.Errorf("sample rate not built from config: %s", joined)
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{
		Binary:  fakeFfmpeg(t, workingFfmpeg),
		Timeout: time.Minute,
	}, log.New(io.Discard))

	dir := t.TempDir()
	raw := filepath.Join(dir, "x.mp3")
	dest := filepath.Join(dir, "x_normalized.mp3.tmp")
	if err := os.WriteFile(raw, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := n.Normalize(context.Background(), raw, dest); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("destination not written: %v", err)
	}
	if string(data) != "normalized bytes" {
		t.Errorf("destination content = %q", data)
	}
}

func TestNormalizer_FailureRemovesPartialOutput(t *testing.T) {
	script := `#!/bin/sh
for last; do :; done
printf 'half written' > "$last"
echo 'Error while filtering' >&2
exit 1
`
	n := NewNormalizer(NormalizerConfig{Binary: fakeFfmpeg(t, script)}, log.New(io.Discard))

	dest := filepath.Join(t.TempDir(), "x_normalized.mp3.tmp")
	err := n.Normalize(context.Background(), "in.mp3", dest)
	if err == nil {
		t.Fatal("Normalize succeeded despite the failure")
	}
	if !strings.Contains(err.Error(), "Error while filtering") {
		t.Errorf("error %q does not carry ffmpeg's stderr", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("partial output survived the failure")
	}
}

func TestNormalizer_NoOutputProduced(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{Binary: fakeFfmpeg(t, "#!/bin/sh\nexit 0\n")}, log.New(io.Discard))

	dest := filepath.Join(t.TempDir(), "x_normalized.mp3.tmp")
	err := n.Normalize(context.Background(), "in.mp3", dest)
	if err == nil {
		t.Fatal("Normalize succeeded without producing output")
	}
	if !strings.Contains(err.Error(), "no output") {
		t.Errorf("error = %v", err)
	}
}
