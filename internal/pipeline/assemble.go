package pipeline

import (
	"strings"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
)

// seam search bounds for overlap deduplication
const (
	maxSeamWindow = 50
	minSeamWindow = 2
)

// DedupOverlap returns next with its leading duplicate of prev's trailing
// text removed. The chunk overlap makes both stages transcribe the same
// audio at the seam; the longest prefix of next that is also a suffix of
// prev, scanning window sizes from min(10% of either text, 50 chars)
// downward, is dropped.
func DedupOverlap(prev, next string) string {
	window := len(prev) / 10
	if n := len(next) / 10; n < window {
		window = n
	}
	if window > maxSeamWindow {
		window = maxSeamWindow
	}

	for size := window; size >= minSeamWindow; size-- {
		if strings.HasSuffix(prev, next[:size]) {
			return next[size:]
		}
	}
	return next
}

// MergeSeam concatenates two chunk texts with seam deduplication.
func MergeSeam(prev, next string) string {
	return prev + DedupOverlap(prev, next)
}

// textOf picks the presentation text for a completed chunk: formatted when
// the format stage ran, raw otherwise.
func textOf(c *audio.Chunk) string {
	if c.FormattedText != "" {
		return c.FormattedText
	}
	return c.RawText
}

// Consolidate joins chunk texts into the session transcript, in the order
// given (callers pass the chunk table ascending by id). Completed chunks
// contribute their text, deduplicated against the preceding chunk's text;
// Error chunks occupy their slot with the placeholder so the timeline
// stays honest; chunks in non-terminal states are skipped. Contributions
// are newline-joined.
//
// Returns the raw and formatted transcripts.
func Consolidate(chunks []*audio.Chunk, placeholder string) (string, string) {
	var rawParts, fmtParts []string
	var prevRaw, prevText string

	for _, c := range chunks {
		switch c.State {
		case audio.StateCompleted:
			raw := c.RawText
			if prevRaw != "" {
				raw = DedupOverlap(prevRaw, raw)
			}
			rawParts = append(rawParts, raw)
			prevRaw = c.RawText

			text := textOf(c)
			if prevText != "" {
				text = DedupOverlap(prevText, text)
			}
			fmtParts = append(fmtParts, text)
			prevText = textOf(c)

		case audio.StateError:
			rawParts = append(rawParts, placeholder)
			fmtParts = append(fmtParts, placeholder)
			// a placeholder breaks text continuity at the seam
			prevRaw, prevText = "", ""
		}
	}
	return strings.Join(rawParts, "\n"), strings.Join(fmtParts, "\n")
}
