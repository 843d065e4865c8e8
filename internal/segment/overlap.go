package segment

import "time"

// defaultOverlaps maps language codes to the overlap carried between
// consecutive chunks. Languages without word spacing need more context at
// the seam.
var defaultOverlaps = map[string]time.Duration{
	"ja": 800 * time.Millisecond,
	"en": 500 * time.Millisecond,
}

const fallbackOverlap = 600 * time.Millisecond

// OverlapForLanguage returns the chunk overlap for a language code.
// Per-language overrides win over the built-in table; an override keyed
// "default" replaces the fallback for unknown languages.
func OverlapForLanguage(language string, overrides map[string]time.Duration) time.Duration {
	if d, ok := overrides[language]; ok {
		return d
	}
	if d, ok := defaultOverlaps[language]; ok {
		return d
	}
	if d, ok := overrides["default"]; ok {
		return d
	}
	return fallbackOverlap
}
