package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	Boundary  BoundaryConfig  `yaml:"boundary"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	ASR       ASRConfig       `yaml:"asr"`
	Formatter FormatterConfig `yaml:"formatter"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AudioConfig contains capture stream parameters
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Language   string `yaml:"language"`
}

// BoundaryConfig contains boundary detector parameters
type BoundaryConfig struct {
	// NoiseFloor is the normalized amplitude (0..1) below which a sample
	// counts as silent.
	NoiseFloor   float64 `yaml:"noise_floor"`
	LongSilence  float64 `yaml:"long_silence"`  // seconds
	ShortSilence float64 `yaml:"short_silence"` // seconds
}

// SegmenterConfig contains chunk segmentation parameters, all in seconds
type SegmenterConfig struct {
	MinChunkDuration   float64            `yaml:"min_chunk_duration"`
	SilenceCheckStart  float64            `yaml:"silence_check_start"`
	PrioritySplitStart float64            `yaml:"priority_split_start"`
	MaxChunkDuration   float64            `yaml:"max_chunk_duration"`
	SearchWindow       float64            `yaml:"search_window"`
	Overlaps           map[string]float64 `yaml:"overlaps"`
}

// PipelineConfig contains worker pool parameters
type PipelineConfig struct {
	Workers          int    `yaml:"workers"`
	FormatEnabled    bool   `yaml:"format_enabled"`
	ReclaimEvery     int    `yaml:"reclaim_every"`
	QueueSize        int    `yaml:"queue_size"`
	ErrorPlaceholder string `yaml:"error_placeholder"`
	EventBuffer      int    `yaml:"event_buffer"`
}

// ASRConfig contains speech-to-text API configuration
type ASRConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Prompt        string  `yaml:"prompt"`
	Temperature   float32 `yaml:"temperature"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// FormatterConfig contains formatting stage configuration
type FormatterConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Prompt      string  `yaml:"prompt"`
	StyleGuide  string  `yaml:"style_guide"`
	Temperature float32 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"` // seconds
}

// HTTPConfig contains monitoring HTTP server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, expands, and validates the configuration file. Secret fields
// support ${VAR} environment expansion.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ASR.APIKey = os.ExpandEnv(config.ASR.APIKey)
	config.Formatter.APIKey = os.ExpandEnv(config.Formatter.APIKey)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Boundary.Validate(); err != nil {
		return fmt.Errorf("boundary config: %w", err)
	}
	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}
	if c.Pipeline.FormatEnabled {
		if err := c.Formatter.Validate(); err != nil {
			return fmt.Errorf("formatter config: %w", err)
		}
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}
	return nil
}

// Validate validates boundary detector configuration
func (b *BoundaryConfig) Validate() error {
	if b.NoiseFloor <= 0 || b.NoiseFloor >= 1 {
		return fmt.Errorf("noise_floor must be between 0 and 1 (exclusive), got %f", b.NoiseFloor)
	}
	if b.ShortSilence <= 0 {
		return fmt.Errorf("short_silence must be positive, got %f", b.ShortSilence)
	}
	if b.LongSilence < b.ShortSilence {
		return fmt.Errorf("long_silence (%f) must not be less than short_silence (%f)",
			b.LongSilence, b.ShortSilence)
	}
	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.MinChunkDuration <= 0 {
		return fmt.Errorf("min_chunk_duration must be positive, got %f", s.MinChunkDuration)
	}
	if s.SilenceCheckStart < s.MinChunkDuration {
		return fmt.Errorf("silence_check_start (%f) must not precede min_chunk_duration (%f)",
			s.SilenceCheckStart, s.MinChunkDuration)
	}
	if s.PrioritySplitStart < s.SilenceCheckStart {
		return fmt.Errorf("priority_split_start (%f) must not precede silence_check_start (%f)",
			s.PrioritySplitStart, s.SilenceCheckStart)
	}
	if s.MaxChunkDuration <= s.PrioritySplitStart {
		return fmt.Errorf("max_chunk_duration (%f) must exceed priority_split_start (%f)",
			s.MaxChunkDuration, s.PrioritySplitStart)
	}
	if s.SearchWindow <= 0 {
		return fmt.Errorf("search_window must be positive, got %f", s.SearchWindow)
	}
	for lang, overlap := range s.Overlaps {
		if overlap < 0 || overlap > 5 {
			return fmt.Errorf("overlap for %q must be between 0 and 5 seconds, got %f", lang, overlap)
		}
	}
	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}
	if p.ReclaimEvery < 0 {
		return fmt.Errorf("reclaim_every cannot be negative, got %d", p.ReclaimEvery)
	}
	if p.QueueSize < 0 {
		return fmt.Errorf("queue_size cannot be negative, got %d", p.QueueSize)
	}
	return nil
}

// Validate validates speech-to-text API configuration
func (a *ASRConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if a.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}
	if a.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}
	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}
	return nil
}

// Validate validates formatter configuration
func (f *FormatterConfig) Validate() error {
	if f.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}
	if f.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if f.Prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	if f.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", f.Timeout)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// GetLongSilenceDuration returns the long silence threshold as a Duration
func (b *BoundaryConfig) GetLongSilenceDuration() time.Duration {
	return seconds(b.LongSilence)
}

// GetShortSilenceDuration returns the short silence threshold as a Duration
func (b *BoundaryConfig) GetShortSilenceDuration() time.Duration {
	return seconds(b.ShortSilence)
}

// GetMinChunkDuration returns the minimum chunk duration as a Duration
func (s *SegmenterConfig) GetMinChunkDuration() time.Duration {
	return seconds(s.MinChunkDuration)
}

// GetSilenceCheckStartDuration returns the silence check threshold as a Duration
func (s *SegmenterConfig) GetSilenceCheckStartDuration() time.Duration {
	return seconds(s.SilenceCheckStart)
}

// GetPrioritySplitStartDuration returns the priority split threshold as a Duration
func (s *SegmenterConfig) GetPrioritySplitStartDuration() time.Duration {
	return seconds(s.PrioritySplitStart)
}

// GetMaxChunkDuration returns the maximum chunk duration as a Duration
func (s *SegmenterConfig) GetMaxChunkDuration() time.Duration {
	return seconds(s.MaxChunkDuration)
}

// GetSearchWindowDuration returns the boundary search half-width as a Duration
func (s *SegmenterConfig) GetSearchWindowDuration() time.Duration {
	return seconds(s.SearchWindow)
}

// GetOverlapDurations converts the overlap override table to Durations
func (s *SegmenterConfig) GetOverlapDurations() map[string]time.Duration {
	if len(s.Overlaps) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(s.Overlaps))
	for lang, v := range s.Overlaps {
		out[lang] = seconds(v)
	}
	return out
}

// GetTimeoutDuration returns the ASR request timeout as a Duration
func (a *ASRConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetTimeoutDuration returns the formatter request timeout as a Duration
func (f *FormatterConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}
