package audio

import (
	"fmt"
	"sync"
	"time"
)

// CaptureBuffer accumulates PCM-16 samples for a recording session.
//
// Samples are addressed by absolute index: index 0 is the first sample ever
// appended, and indices remain stable after trimming. The segmenter is the
// sole writer; monitoring readers may query stats concurrently.
type CaptureBuffer struct {
	sampleRate int

	samples []int16 // retained window
	base    int64   // absolute index of samples[0]
	total   int64   // absolute index one past the last appended sample

	lastAppend time.Time

	mu sync.RWMutex
}

// CaptureBufferStats represents buffer state for monitoring
type CaptureBufferStats struct {
	SampleRate      int           `json:"sample_rate"`
	TotalSamples    int64         `json:"total_samples"`
	RetainedSamples int           `json:"retained_samples"`
	TotalDuration   time.Duration `json:"total_duration_ns"`
	LastAppend      time.Time     `json:"last_append"`
}

// NewCaptureBuffer creates a capture buffer for the given sample rate
func NewCaptureBuffer(sampleRate int) *CaptureBuffer {
	return &CaptureBuffer{
		sampleRate: sampleRate,
		samples:    make([]int16, 0, sampleRate), // preallocate ~1s
	}
}

// Append adds PCM samples to the buffer and returns the new total sample
// count. Empty appends are accepted and change nothing.
func (b *CaptureBuffer) Append(pcm []int16) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(pcm) > 0 {
		b.samples = append(b.samples, pcm...)
		b.total += int64(len(pcm))
		b.lastAppend = time.Now()
	}
	return b.total
}

// TotalSamples returns the number of samples ever appended.
func (b *CaptureBuffer) TotalSamples() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Retained returns the number of samples currently held in memory.
func (b *CaptureBuffer) Retained() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Duration returns the total appended duration.
func (b *CaptureBuffer) Duration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.durationOf(b.total)
}

func (b *CaptureBuffer) durationOf(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(b.sampleRate)
}

// Range returns a copy of the samples in the absolute range [start, end).
// Requesting samples that were already trimmed or not yet appended is an
// error.
func (b *CaptureBuffer) Range(start, end int64) ([]int16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if start < b.base {
		return nil, fmt.Errorf("range start %d precedes trimmed base %d", start, b.base)
	}
	if end > b.total {
		return nil, fmt.Errorf("range end %d exceeds appended total %d", end, b.total)
	}
	if start >= end {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}

	out := make([]int16, end-start)
	copy(out, b.samples[start-b.base:end-b.base])
	return out, nil
}

// Tail returns a copy of up to n trailing samples together with the absolute
// index of the first returned sample. Trimmed samples are never included.
func (b *CaptureBuffer) Tail(n int) ([]int16, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > len(b.samples) {
		n = len(b.samples)
	}
	start := len(b.samples) - n
	out := make([]int16, n)
	copy(out, b.samples[start:])
	return out, b.base + int64(start)
}

// TrimBefore discards retained samples with absolute index below abs.
// Consumed audio is released eagerly so memory stays proportional to the
// current chunk, not the session length.
func (b *CaptureBuffer) TrimBefore(abs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if abs <= b.base {
		return
	}
	if abs > b.total {
		abs = b.total
	}

	keep := b.samples[abs-b.base:]
	// reallocate instead of reslicing so the trimmed prefix is collectable
	b.samples = append(make([]int16, 0, len(keep)+b.sampleRate), keep...)
	b.base = abs
}

// Reset clears the buffer to its initial state for a fresh session.
func (b *CaptureBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
	b.base = 0
	b.total = 0
	b.lastAppend = time.Time{}
}

// GetStats returns current buffer statistics
func (b *CaptureBuffer) GetStats() CaptureBufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return CaptureBufferStats{
		SampleRate:      b.sampleRate,
		TotalSamples:    b.total,
		RetainedSamples: len(b.samples),
		TotalDuration:   b.durationOf(b.total),
		LastAppend:      b.lastAppend,
	}
}
