package pipeline

import (
	"strings"
	"testing"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
)

func TestDedupOverlap(t *testing.T) {
	prev := "the quick brown fox jumps over the lazy dog AB"
	next := "AB and keeps running through the field without rest"

	got := DedupOverlap(prev, next)
	want := " and keeps running through the field without rest"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	// The merged pair contains the seam text exactly once
	merged := MergeSeam(prev, next)
	if strings.Count(merged, "AB") != 1 {
		t.Errorf("Expected seam text exactly once, got %q", merged)
	}
}

func TestDedupOverlapNoMatch(t *testing.T) {
	prev := "completely unrelated ending text here"
	next := "something else begins this next chunk"
	if got := DedupOverlap(prev, next); got != next {
		t.Errorf("Expected next unchanged, got %q", got)
	}
}

func TestDedupOverlapWindowBounds(t *testing.T) {
	// Window is capped at 10% of the shorter text: a duplicate longer
	// than the window is not detected.
	prev := strings.Repeat("x", 40) + "ABCDE"
	next := "ABCDE" + strings.Repeat("y", 40)
	// window = min(45,45)/10 = 4 < 5, so only a 4-char seam is tried
	if got := DedupOverlap(prev, next); got != next {
		t.Errorf("Expected no merge beyond window size, got %q", got)
	}

	// Short texts below the minimum window never merge
	if got := DedupOverlap("ab", "ab"); got != "ab" {
		t.Errorf("Expected tiny texts unmerged, got %q", got)
	}
}

func completedChunk(id uint64, raw, formatted string) *audio.Chunk {
	return &audio.Chunk{
		ID:            id,
		State:         audio.StateCompleted,
		RawText:       raw,
		FormattedText: formatted,
	}
}

func TestConsolidate(t *testing.T) {
	chunks := []*audio.Chunk{
		completedChunk(0, "first chunk of spoken text ends here AB", ""),
		completedChunk(1, "AB second chunk continues the thought", ""),
	}

	raw, formatted := Consolidate(chunks, "[error]")
	if strings.Count(raw, "AB") != 1 {
		t.Errorf("Expected seam deduplicated in raw transcript, got %q", raw)
	}
	if !strings.Contains(raw, "\n") {
		t.Errorf("Expected newline-joined chunks, got %q", raw)
	}
	if formatted != raw {
		t.Errorf("Without a format stage the transcripts match, got %q vs %q", formatted, raw)
	}
}

func TestConsolidatePrefersFormattedText(t *testing.T) {
	chunks := []*audio.Chunk{
		completedChunk(0, "raw text one", "Formatted text one."),
		completedChunk(1, "raw text two", "Formatted text two."),
	}

	raw, formatted := Consolidate(chunks, "[error]")
	if raw != "raw text one\nraw text two" {
		t.Errorf("Unexpected raw transcript %q", raw)
	}
	if formatted != "Formatted text one.\nFormatted text two." {
		t.Errorf("Unexpected formatted transcript %q", formatted)
	}
}

func TestConsolidateErrorPlaceholder(t *testing.T) {
	chunks := []*audio.Chunk{
		completedChunk(0, "before the failure", ""),
		{ID: 1, State: audio.StateError},
		completedChunk(2, "after the failure", ""),
	}

	raw, _ := Consolidate(chunks, "[transcription failed]")
	want := "before the failure\n[transcription failed]\nafter the failure"
	if raw != want {
		t.Errorf("Expected %q, got %q", want, raw)
	}
}

func TestConsolidateSkipsUnresolved(t *testing.T) {
	chunks := []*audio.Chunk{
		completedChunk(0, "kept text", ""),
		{ID: 1, State: audio.StateProcessing},
		{ID: 2, State: audio.StateQueued},
		completedChunk(3, "also kept", ""),
	}

	raw, _ := Consolidate(chunks, "[error]")
	if raw != "kept text\nalso kept" {
		t.Errorf("Expected unresolved chunks skipped, got %q", raw)
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	chunks := []*audio.Chunk{
		completedChunk(0, "some lengthy spoken sentence that ends with XY", ""),
		completedChunk(1, "XY and then continues for a good while longer", ""),
	}

	raw1, fmt1 := Consolidate(chunks, "[error]")
	raw2, fmt2 := Consolidate(chunks, "[error]")
	if raw1 != raw2 || fmt1 != fmt2 {
		t.Error("Consolidation must be repeatable without changing its result")
	}
}
