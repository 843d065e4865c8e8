package boundary

import (
	"fmt"
	"sync"
	"time"
)

// Rule identifies which detection rule produced a split point
type Rule int

const (
	RuleLongSilence Rule = iota + 1
	RuleShortSilence
	RuleMinAmplitude
	RuleZeroCrossing
	RuleFallback
)

// String returns a human-readable rule name
func (r Rule) String() string {
	switch r {
	case RuleLongSilence:
		return "long_silence"
	case RuleShortSilence:
		return "short_silence"
	case RuleMinAmplitude:
		return "min_amplitude"
	case RuleZeroCrossing:
		return "zero_crossing"
	case RuleFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Config holds boundary detector configuration
type Config struct {
	SampleRate int
	// NoiseFloor is the normalized amplitude (0..1) below which a sample
	// counts as silent.
	NoiseFloor   float64
	LongSilence  time.Duration
	ShortSilence time.Duration
}

// SplitPoint is a detected boundary within a window
type SplitPoint struct {
	// Offset is the cut position within the analyzed window, in
	// [0, len(window)]. An offset of len(window) splits at the window end.
	Offset int
	Rule   Rule
}

// DetectorStats counts splits actually taken, by rule. Scans whose result
// was rejected by the caller are not counted.
type DetectorStats struct {
	TotalSplits  uint64 `json:"total_splits"`
	LongSilence  uint64 `json:"long_silence"`
	ShortSilence uint64 `json:"short_silence"`
	MinAmplitude uint64 `json:"min_amplitude"`
	ZeroCrossing uint64 `json:"zero_crossing"`
	Fallbacks    uint64 `json:"fallbacks"`
}

// Detector finds natural split points in audio windows. FindSplit is a pure
// function of its inputs; callers record accepted splits via RecordSplit.
type Detector struct {
	config    Config
	threshold int16

	mu    sync.Mutex
	stats DetectorStats
}

// NewDetector creates a detector and validates its configuration
func NewDetector(config Config) (*Detector, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.NoiseFloor <= 0 || config.NoiseFloor >= 1 {
		return nil, fmt.Errorf("noise floor must be in (0, 1), got %f", config.NoiseFloor)
	}
	if config.ShortSilence <= 0 || config.LongSilence < config.ShortSilence {
		return nil, fmt.Errorf("silence durations invalid: long=%v short=%v",
			config.LongSilence, config.ShortSilence)
	}
	return &Detector{
		config:    config,
		threshold: int16(config.NoiseFloor * 32767),
	}, nil
}

// silentRun is a contiguous range of samples below the noise floor
type silentRun struct {
	start  int
	length int
}

// FindSplit returns the best split offset within window. The target is the
// preferred cut position (clamped into [0, len(window)]) used by the
// lower-priority rules; it may equal len(window) when the caller's target
// sits at the end of the buffered audio. FindSplit always succeeds; when no
// acoustic cue exists it falls back to the target itself and reports
// RuleFallback.
func (d *Detector) FindSplit(window []int16, target int) SplitPoint {
	if target < 0 {
		target = 0
	}
	if target > len(window) {
		target = len(window)
	}
	if len(window) == 0 {
		return SplitPoint{Offset: 0, Rule: RuleFallback}
	}

	runs := d.silentRuns(window)
	longSamples := d.samplesFor(d.config.LongSilence)
	shortSamples := d.samplesFor(d.config.ShortSilence)

	// Rule 1: midpoint of the longest silent run of at least LongSilence
	if best := longestRun(runs); best.length >= longSamples {
		return SplitPoint{Offset: best.start + best.length/2, Rule: RuleLongSilence}
	}

	// Rule 2: midpoint of the first silent run of at least ShortSilence
	for _, run := range runs {
		if run.length >= shortSamples {
			return SplitPoint{Offset: run.start + run.length/2, Rule: RuleShortSilence}
		}
	}

	// Rule 3: position of minimum absolute amplitude
	if off, ok := d.minAmplitude(window); ok {
		return SplitPoint{Offset: off, Rule: RuleMinAmplitude}
	}

	// Rule 4: zero crossing nearest the target
	if off, ok := d.nearestZeroCrossing(window, target); ok {
		return SplitPoint{Offset: off, Rule: RuleZeroCrossing}
	}

	// Rule 5: the target itself
	return SplitPoint{Offset: target, Rule: RuleFallback}
}

// silentRuns scans the window for maximal runs of samples below the noise
// floor.
func (d *Detector) silentRuns(window []int16) []silentRun {
	var runs []silentRun
	runStart := -1
	for i, s := range window {
		silent := s > -d.threshold && s < d.threshold
		if silent && runStart < 0 {
			runStart = i
		} else if !silent && runStart >= 0 {
			runs = append(runs, silentRun{start: runStart, length: i - runStart})
			runStart = -1
		}
	}
	if runStart >= 0 {
		runs = append(runs, silentRun{start: runStart, length: len(window) - runStart})
	}
	return runs
}

func longestRun(runs []silentRun) silentRun {
	var best silentRun
	for _, run := range runs {
		if run.length > best.length {
			best = run
		}
	}
	return best
}

// minAmplitude returns the index of the quietest sample, provided it is
// meaningfully quieter than the loudest one. A flat window carries no
// boundary information.
func (d *Detector) minAmplitude(window []int16) (int, bool) {
	minIdx := 0
	var minAbs, maxAbs int32
	minAbs = 1 << 30
	for i, s := range window {
		abs := int32(s)
		if abs < 0 {
			abs = -abs
		}
		if abs < minAbs {
			minAbs = abs
			minIdx = i
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	if maxAbs == 0 || minAbs == maxAbs {
		return 0, false
	}
	return minIdx, true
}

// nearestZeroCrossing searches outward from target for a sign change between
// adjacent samples.
func (d *Detector) nearestZeroCrossing(window []int16, target int) (int, bool) {
	crossesAt := func(i int) bool {
		return i > 0 && i < len(window) &&
			(window[i-1] < 0) != (window[i] < 0)
	}
	for dist := 0; dist < len(window); dist++ {
		if crossesAt(target - dist) {
			return target - dist, true
		}
		if crossesAt(target + dist) {
			return target + dist, true
		}
	}
	return 0, false
}

func (d *Detector) samplesFor(dur time.Duration) int {
	return int(dur * time.Duration(d.config.SampleRate) / time.Second)
}

// RecordSplit counts a split the caller actually took. Opportunistic scans
// whose result was rejected must not be recorded.
func (d *Detector) RecordSplit(rule Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.TotalSplits++
	switch rule {
	case RuleLongSilence:
		d.stats.LongSilence++
	case RuleShortSilence:
		d.stats.ShortSilence++
	case RuleMinAmplitude:
		d.stats.MinAmplitude++
	case RuleZeroCrossing:
		d.stats.ZeroCrossing++
	case RuleFallback:
		d.stats.Fallbacks++
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.config
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
