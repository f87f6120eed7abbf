package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultChannelPattern matches the numeric channel marker embedded in
// the server label as rendered by the game client, e.g. "Arcadia-7".
const DefaultChannelPattern = `Arcadia-(\d+)`

// Normalizer cleans raw OCR output into record field values. OCR text
// is noisy free text; channel extraction degrades to the trimmed raw
// text when the expected marker is absent rather than failing.
type Normalizer struct {
	channelRe *regexp.Regexp
}

// New compiles the channel pattern. The pattern must contain exactly
// one capture group for the channel digits.
func New(channelPattern string) (*Normalizer, error) {
	if strings.TrimSpace(channelPattern) == "" {
		channelPattern = DefaultChannelPattern
	}
	re, err := regexp.Compile(channelPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid channel pattern %q: %w", channelPattern, err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("channel pattern %q must have exactly one capture group", channelPattern)
	}
	return &Normalizer{channelRe: re}, nil
}

// MustNew is New for patterns known at compile time.
func MustNew(channelPattern string) *Normalizer {
	n, err := New(channelPattern)
	if err != nil {
		panic(err)
	}
	return n
}

// Channel extracts the channel marker from raw OCR text. When the
// pattern matches, the captured digit group is returned; otherwise the
// trimmed raw text is returned unchanged. Empty or whitespace-only
// input yields an empty string.
func (n *Normalizer) Channel(raw string) string {
	if m := n.channelRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return strings.TrimSpace(raw)
}

// AccountID trims leading and trailing whitespace. Account labels are
// assumed already well-formed, no pattern extraction.
func (n *Normalizer) AccountID(raw string) string {
	return strings.TrimSpace(raw)
}
