package segment

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
	"github.com/skypro1111/realtime-asr-service/internal/boundary"
)

// Config holds segmenter configuration
type Config struct {
	SampleRate int
	Language   string

	// MinChunkDuration is the floor below which no split is ever made
	// (except the final chunk on flush).
	MinChunkDuration time.Duration
	// SilenceCheckStart is the elapsed duration from which a long silent
	// run triggers an opportunistic split.
	SilenceCheckStart time.Duration
	// PrioritySplitStart is the elapsed duration from which a short silent
	// run is also accepted.
	PrioritySplitStart time.Duration
	// MaxChunkDuration forces a split regardless of content.
	MaxChunkDuration time.Duration
	// SearchWindow is the half-width of the boundary search around a
	// forced split target.
	SearchWindow time.Duration

	// Overlaps optionally overrides the per-language overlap table.
	Overlaps map[string]time.Duration
}

// Validate checks segmenter configuration consistency
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.MinChunkDuration <= 0 {
		return fmt.Errorf("min chunk duration must be positive, got %v", c.MinChunkDuration)
	}
	if c.SilenceCheckStart < c.MinChunkDuration {
		return fmt.Errorf("silence check start %v precedes min chunk duration %v",
			c.SilenceCheckStart, c.MinChunkDuration)
	}
	if c.PrioritySplitStart < c.SilenceCheckStart {
		return fmt.Errorf("priority split start %v precedes silence check start %v",
			c.PrioritySplitStart, c.SilenceCheckStart)
	}
	if c.MaxChunkDuration <= c.PrioritySplitStart {
		return fmt.Errorf("max chunk duration %v must exceed priority split start %v",
			c.MaxChunkDuration, c.PrioritySplitStart)
	}
	if c.SearchWindow <= 0 {
		return fmt.Errorf("search window must be positive, got %v", c.SearchWindow)
	}
	return nil
}

// SegmenterStats represents segmenter state for monitoring
type SegmenterStats struct {
	ChunksEmitted   uint64                   `json:"chunks_emitted"`
	CurrentDuration time.Duration            `json:"current_chunk_duration_ns"`
	Language        string                   `json:"language"`
	Overlap         time.Duration            `json:"overlap_ns"`
	Buffer          audio.CaptureBufferStats `json:"buffer"`
	Detector        boundary.DetectorStats   `json:"detector"`
}

// Segmenter slices the capture stream into bounded chunks. It is the sole
// mutator of its capture buffer. All timing derives from appended sample
// counts, never wall clock, so identical input produces identical chunks.
type Segmenter struct {
	config   Config
	detector *boundary.Detector
	buffer   *audio.CaptureBuffer
	logger   *slog.Logger

	overlap time.Duration

	mu          sync.Mutex
	chunkStart  int64 // absolute sample index of the current chunk
	leadOverlap time.Duration
	nextID      uint64
	emitted     uint64
}

// NewSegmenter creates a segmenter with its own capture buffer
func NewSegmenter(config Config, detector *boundary.Detector, logger *slog.Logger) (*Segmenter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}
	if detector == nil {
		return nil, fmt.Errorf("boundary detector is required")
	}
	return &Segmenter{
		config:   config,
		detector: detector,
		buffer:   audio.NewCaptureBuffer(config.SampleRate),
		logger:   logger,
		overlap:  OverlapForLanguage(config.Language, config.Overlaps),
	}, nil
}

// Overlap returns the resolved inter-chunk overlap for the configured
// language.
func (s *Segmenter) Overlap() time.Duration {
	return s.overlap
}

// Buffer exposes the capture buffer for monitoring reads.
func (s *Segmenter) Buffer() *audio.CaptureBuffer {
	return s.buffer
}

// Reset clears all segmenter and buffer state for a fresh session.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Reset()
	s.chunkStart = 0
	s.leadOverlap = 0
	s.nextID = 0
	s.emitted = 0
}

// Append adds captured PCM to the stream and returns any chunks whose
// boundaries were crossed by this append. Most calls return nil; a single
// very large append can complete several chunks.
func (s *Segmenter) Append(pcm []int16) []*audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.buffer.Append(pcm)

	var out []*audio.Chunk
	for {
		chunk := s.trySplit(total)
		if chunk == nil {
			return out
		}
		out = append(out, chunk)
	}
}

// Flush emits the remainder of the stream as a final chunk, which may be
// shorter than the configured minimum. Returns nil if nothing is pending.
func (s *Segmenter) Flush() *audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.buffer.TotalSamples()
	if total <= s.chunkStart {
		return nil
	}
	chunk := s.emit(total, total, "final")
	chunk.Final = true

	// no successor chunk: drop the overlap pull-back emit applied
	s.chunkStart = total
	s.leadOverlap = 0
	s.buffer.TrimBefore(total)
	return chunk
}

// trySplit evaluates the duration state machine for the current chunk and
// emits at most one chunk.
func (s *Segmenter) trySplit(total int64) *audio.Chunk {
	elapsed := s.durationOf(total - s.chunkStart)
	if elapsed < s.config.SilenceCheckStart {
		return nil
	}
	if elapsed >= s.config.MaxChunkDuration {
		return s.forcedSplit(total)
	}
	return s.opportunisticSplit(total, elapsed)
}

// forcedSplit searches ±SearchWindow around the max-duration target and
// accepts any boundary rule. The split never lands past the target, so the
// chunk duration stays within the configured maximum.
func (s *Segmenter) forcedSplit(total int64) *audio.Chunk {
	w := s.samplesFor(s.config.SearchWindow)
	target := s.chunkStart + s.samplesFor64(s.config.MaxChunkDuration)
	if target > total {
		target = total
	}

	windowStart := target - int64(w)
	if min := s.chunkStart + s.samplesFor64(s.config.MinChunkDuration); windowStart < min {
		windowStart = min
	}
	windowEnd := target + int64(w)
	if windowEnd > total {
		windowEnd = total
	}

	window, err := s.buffer.Range(windowStart, windowEnd)
	if err != nil {
		// retained window always covers the current chunk; fall back hard
		s.logger.Error("Forced split window unavailable",
			slog.Uint64("chunk_id", s.nextID),
			slog.String("error", err.Error()))
		s.detector.RecordSplit(boundary.RuleFallback)
		return s.emit(target, total, boundary.RuleFallback.String())
	}

	sp := s.detector.FindSplit(window, int(target-windowStart))
	splitAt := windowStart + int64(sp.Offset)
	if splitAt > target {
		splitAt = target
	}
	if sp.Rule == boundary.RuleFallback {
		s.logger.Warn("Segmentation fallback: no natural boundary near target",
			slog.Uint64("chunk_id", s.nextID),
			slog.Duration("position", s.durationOf(target)))
	}
	s.detector.RecordSplit(sp.Rule)
	return s.emit(splitAt, total, sp.Rule.String())
}

// opportunisticSplit checks the stream tail for a silent run. Before
// PrioritySplitStart only a long run is accepted; after it a short run
// suffices.
func (s *Segmenter) opportunisticSplit(total int64, elapsed time.Duration) *audio.Chunk {
	tailLen := s.samplesFor(s.detectorSpan())
	tail, tailStart := s.buffer.Tail(tailLen)
	if len(tail) == 0 {
		return nil
	}

	sp := s.detector.FindSplit(tail, len(tail)-1)
	accepted := sp.Rule == boundary.RuleLongSilence ||
		(sp.Rule == boundary.RuleShortSilence && elapsed >= s.config.PrioritySplitStart)
	if !accepted {
		return nil
	}

	splitAt := tailStart + int64(sp.Offset)
	if splitAt <= s.chunkStart+s.samplesFor64(s.config.MinChunkDuration) {
		return nil
	}
	s.detector.RecordSplit(sp.Rule)
	return s.emit(splitAt, total, sp.Rule.String())
}

// emit cuts the current chunk at splitAt, advances the chunk window by the
// overlap, and trims consumed audio. The chunk's audio extends up to one
// overlap past the split point when that much is already buffered, so both
// sides of a seam carry the duplicated span; EndTime stays at the split.
func (s *Segmenter) emit(splitAt, total int64, reason string) *audio.Chunk {
	audioEnd := splitAt + s.samplesFor64(s.overlap)
	if audioEnd > total {
		audioEnd = total
	}
	samples, err := s.buffer.Range(s.chunkStart, audioEnd)
	if err != nil {
		// unreachable while the trim discipline below holds
		s.logger.Error("Chunk extraction failed",
			slog.Uint64("chunk_id", s.nextID),
			slog.String("error", err.Error()))
		samples = nil
	}

	chunk := &audio.Chunk{
		ID:          s.nextID,
		StartTime:   s.durationOf(s.chunkStart),
		EndTime:     s.durationOf(splitAt),
		Overlap:     s.leadOverlap,
		SampleRate:  s.config.SampleRate,
		Samples:     samples,
		State:       audio.StateQueued,
		SplitReason: reason,
	}
	s.nextID++
	s.emitted++

	newStart := splitAt - s.samplesFor64(s.overlap)
	if newStart < s.chunkStart {
		newStart = s.chunkStart
	}
	s.chunkStart = newStart
	s.leadOverlap = s.durationOf(splitAt - newStart)
	s.buffer.TrimBefore(newStart)

	s.logger.Info("Chunk emitted",
		slog.Uint64("chunk_id", chunk.ID),
		slog.Duration("start", chunk.StartTime),
		slog.Duration("end", chunk.EndTime),
		slog.String("reason", reason),
		slog.Int("samples", len(samples)))
	return chunk
}

// detectorSpan is the tail length examined for opportunistic splits: long
// enough to contain a qualifying run plus search slack.
func (s *Segmenter) detectorSpan() time.Duration {
	return s.detector.Config().LongSilence + 2*s.config.SearchWindow
}

func (s *Segmenter) durationOf(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(s.config.SampleRate)
}

func (s *Segmenter) samplesFor(d time.Duration) int {
	return int(d * time.Duration(s.config.SampleRate) / time.Second)
}

func (s *Segmenter) samplesFor64(d time.Duration) int64 {
	return int64(d * time.Duration(s.config.SampleRate) / time.Second)
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmenterStats{
		ChunksEmitted:   s.emitted,
		CurrentDuration: s.durationOf(s.buffer.TotalSamples() - s.chunkStart),
		Language:        s.config.Language,
		Overlap:         s.overlap,
		Buffer:          s.buffer.GetStats(),
		Detector:        s.detector.GetStats(),
	}
}
