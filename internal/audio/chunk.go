package audio

import (
	"time"
)

// ChunkState represents the processing state of a chunk
type ChunkState int

const (
	StateQueued ChunkState = iota
	StateProcessing
	StateCompleted
	StateError
)

// String returns a human-readable state name
func (s ChunkState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Chunk is a bounded-duration slice of the audio stream processed as one
// independent unit through the transcription and formatting stages.
//
// A chunk is mutated by exactly one party at a time: the segmenter builds it,
// then a single pipeline worker owns it until it reaches a terminal state.
// StartTime and EndTime are offsets from the start of the recording session,
// derived from sample counts rather than wall clock.
type Chunk struct {
	ID         uint64
	StartTime  time.Duration
	EndTime    time.Duration
	Overlap    time.Duration
	SampleRate int

	// Samples holds the chunk audio until the chunk reaches a terminal
	// state, at which point it is released. It covers the leading overlap
	// carried over from the previous chunk and may run up to one overlap
	// past EndTime, so both sides of a seam hear the duplicated span.
	Samples []int16

	State         ChunkState
	RawText       string
	FormattedText string
	Err           error
	Retries       int

	// SplitReason records which boundary rule ended this chunk.
	SplitReason string

	// Final marks the last chunk of a session, which is allowed to be
	// shorter than the configured minimum duration.
	Final bool

	released bool
}

// Duration returns the duration of the chunk, leading overlap included.
func (c *Chunk) Duration() time.Duration {
	return c.EndTime - c.StartTime
}

// ReleaseAudio drops the chunk's sample data. It is a no-op on second call,
// so a chunk's audio is released exactly once and never resurrected.
func (c *Chunk) ReleaseAudio() {
	if c.released {
		return
	}
	c.released = true
	c.Samples = nil
}

// AudioReleased reports whether the chunk's audio has been released.
func (c *Chunk) AudioReleased() bool {
	return c.released
}

// Terminal reports whether the chunk has reached a terminal state.
func (c *Chunk) Terminal() bool {
	return c.State == StateCompleted || c.State == StateError
}
