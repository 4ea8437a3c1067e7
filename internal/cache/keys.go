package cache

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// keyPatterns cover the locator shapes we can canonicalize. All of them
// capture the 11-character video ID, which is the content key: every
// surface form of the same track (host variants, extra query parameters,
// short links) collapses to the same key.
var keyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com|youtube-nocookie\.com)/(?:watch\?(?:[^#]*&)?v=|embed/|shorts/|live/|v/)([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`youtu\.be/([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`^([0-9A-Za-z_-]{11})$`),
}

// ephemeralPrefix marks one-off keys that must never reach the index
const ephemeralPrefix = "tmp-"

// ExtractKey derives the canonical content key from a source locator.
// It returns ErrKeyExtraction when the locator carries no recognizable
// content identifier; callers should fall back to EphemeralKey.
func ExtractKey(locator string) (string, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return "", ErrKeyExtraction
	}
	for _, p := range keyPatterns {
		if m := p.FindStringSubmatch(trimmed); m != nil {
			return m[1], nil
		}
	}
	return "", ErrKeyExtraction
}

// EphemeralKey returns a one-off key for uncacheable content. Ephemeral
// keys are never written to the index and their artifacts live in the
// store's scratch directory only.
func EphemeralKey() string {
	return ephemeralPrefix + uuid.NewString()
}

// IsEphemeral reports whether key was produced by EphemeralKey.
func IsEphemeral(key string) bool {
	return strings.HasPrefix(key, ephemeralPrefix)
}
