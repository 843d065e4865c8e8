package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
	"github.com/skypro1111/realtime-asr-service/internal/boundary"
	"github.com/skypro1111/realtime-asr-service/internal/metrics"
	"github.com/skypro1111/realtime-asr-service/internal/pipeline"
	"github.com/skypro1111/realtime-asr-service/internal/segment"
)

// State is the session lifecycle state
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateDone
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// EventType distinguishes chunk updates from the final session event
type EventType int

const (
	EventChunk EventType = iota
	EventSessionComplete
)

// Event is delivered to the session's consumer. Chunk events follow state
// transitions; the session-complete event carries the consolidated
// transcripts.
type Event struct {
	Type EventType

	ChunkID       uint64
	ChunkState    audio.ChunkState
	RawText       string
	FormattedText string
	Err           error
	Retries       int

	RawTranscript       string
	FormattedTranscript string
}

// Config holds session configuration
type Config struct {
	Boundary  boundary.Config
	Segmenter segment.Config
	Pipeline  pipeline.Config

	// ErrorPlaceholder occupies the transcript slot of chunks that settle
	// in error.
	ErrorPlaceholder string
	// EventBuffer bounds the consumer event channel. Default 256.
	EventBuffer int
}

// SessionInfo is a point-in-time snapshot for monitoring
type SessionInfo struct {
	State         string                 `json:"state"`
	CancelState   string                 `json:"cancel_state"`
	AuthHalted    bool                   `json:"auth_halted"`
	ChunkCounts   map[string]int         `json:"chunk_counts"`
	EventsDropped uint64                 `json:"events_dropped"`
	Segmenter     *segment.SegmenterStats `json:"segmenter,omitempty"`
	Pipeline      *pipeline.PipelineStats `json:"pipeline,omitempty"`
}

// Session coordinates one recording: it feeds captured samples to the
// segmenter, dispatches emitted chunks to the pipeline, tracks the
// canonical chunk table, and arbitrates cancellation. All exported methods
// are safe to call from any goroutine.
type Session struct {
	config    Config
	asr       pipeline.Transcriber
	formatter pipeline.Formatter
	clock     pipeline.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// mu guards lifecycle and cancellation state
	mu          sync.Mutex
	state       State
	cancelState CancelState
	authHalted  bool
	seg         *segment.Segmenter
	pipe        *pipeline.Pipeline
	gate        *dispatchGate
	runCtx      context.Context
	runCancel   context.CancelFunc
	events      chan Event

	rawTranscript       string
	formattedTranscript string

	// tableMu guards the chunk table and event accounting
	tableMu       sync.Mutex
	chunks        map[uint64]*audio.Chunk
	order         []uint64
	states        map[uint64]audio.ChunkState
	discarding    bool
	eventsDropped uint64
}

// NewSession creates a session. The segmenter and pipeline are built per
// Start so a discarded session leaves no residue.
func NewSession(config Config, asr pipeline.Transcriber, formatter pipeline.Formatter, clock pipeline.Clock, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {
	if asr == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if err := config.Segmenter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}
	if _, err := boundary.NewDetector(config.Boundary); err != nil {
		return nil, fmt.Errorf("invalid boundary config: %w", err)
	}
	if config.ErrorPlaceholder == "" {
		config.ErrorPlaceholder = "[transcription failed]"
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}
	if clock == nil {
		clock = pipeline.SystemClock()
	}
	return &Session{
		config:    config,
		asr:       asr,
		formatter: formatter,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		state:     StateIdle,
	}, nil
}

// Start begins a recording session.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("cannot start session in state %s", s.state)
	}

	detector, err := boundary.NewDetector(s.config.Boundary)
	if err != nil {
		return fmt.Errorf("building boundary detector: %w", err)
	}
	seg, err := segment.NewSegmenter(s.config.Segmenter, detector, s.logger)
	if err != nil {
		return fmt.Errorf("building segmenter: %w", err)
	}

	gate := newDispatchGate()
	pipeCfg := s.config.Pipeline
	pipeCfg.Notify = s.onPipelineEvent
	pipeCfg.OnAuthError = s.onAuthError
	pipe, err := pipeline.New(pipeCfg, s.asr, s.formatter, gate, s.clock, s.metrics, s.logger)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	s.tableMu.Lock()
	s.chunks = make(map[uint64]*audio.Chunk)
	s.order = nil
	s.states = make(map[uint64]audio.ChunkState)
	s.discarding = false
	s.eventsDropped = 0
	s.tableMu.Unlock()

	s.seg = seg
	s.pipe = pipe
	s.gate = gate
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.events = make(chan Event, s.config.EventBuffer)
	s.cancelState = CancelNone
	s.authHalted = false
	s.rawTranscript, s.formattedTranscript = "", ""
	s.state = StateRecording

	pipe.Start(s.runCtx)
	s.metrics.RecordSessionStarted()
	s.logger.Info("Session started",
		slog.String("language", s.config.Segmenter.Language),
		slog.Int("workers", pipeCfg.Workers))
	return nil
}

// AppendSamples feeds captured PCM into the session. While a cancellation
// request is pending, capture is paused and samples are dropped.
func (s *Session) AppendSamples(pcm []int16) error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return fmt.Errorf("session not recording (state %s)", s.state)
	}
	// a pending cancel is observed here, before any chunk can be emitted
	if s.cancelState != CancelNone {
		s.mu.Unlock()
		return nil
	}
	seg, pipe := s.seg, s.pipe
	s.mu.Unlock()

	chunks := seg.Append(pcm)
	s.metrics.RecordCapturedAudio(sampleDuration(len(pcm), s.config.Segmenter.SampleRate))

	for _, chunk := range chunks {
		s.registerChunk(chunk)
		pipe.Enqueue(chunk)
	}
	return nil
}

// Stop ends capture, flushes the final chunk, waits for the pipeline to
// settle (including the deferred batch retry pass), and returns the
// consolidated raw and formatted transcripts.
func (s *Session) Stop() (string, string, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return "", "", fmt.Errorf("cannot stop session in state %s", s.state)
	}
	if s.cancelState != CancelNone {
		s.mu.Unlock()
		return "", "", fmt.Errorf("cancellation %s must be resolved first", s.cancelState)
	}
	s.state = StateStopping
	seg, pipe, runCtx := s.seg, s.pipe, s.runCtx
	s.mu.Unlock()

	if final := seg.Flush(); final != nil {
		s.registerChunk(final)
		pipe.Enqueue(final)
	}

	pipe.CloseQueue()
	pipe.WaitDrained()
	pipe.RunRetries(runCtx)

	raw, formatted := s.consolidate()

	s.mu.Lock()
	s.state = StateDone
	s.rawTranscript, s.formattedTranscript = raw, formatted
	events := s.events
	s.mu.Unlock()

	s.emit(events, Event{
		Type:                EventSessionComplete,
		RawTranscript:       raw,
		FormattedTranscript: formatted,
	})
	close(events)

	s.metrics.RecordSessionCompleted()
	s.logger.Info("Session completed", slog.Int("transcript_chars", len(formatted)))
	return raw, formatted, nil
}

// RequestCancel pauses capture and dispatch until the request is resolved.
func (s *Session) RequestCancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return fmt.Errorf("no active capture to cancel (state %s)", s.state)
	}
	if s.cancelState != CancelNone {
		return fmt.Errorf("cancellation already %s", s.cancelState)
	}
	s.cancelState = CancelRequested
	s.gate.pause()
	s.logger.Info("Cancellation requested, capture paused")
	return nil
}

// ResolveCancel applies the user's choice to a pending cancellation
// request.
func (s *Session) ResolveCancel(choice CancelChoice) error {
	s.mu.Lock()
	if s.cancelState != CancelRequested {
		s.mu.Unlock()
		return fmt.Errorf("no cancellation pending (state %s)", s.cancelState)
	}
	s.cancelState = CancelResolving
	s.mu.Unlock()

	s.metrics.RecordCancelResolution(choice.String())
	s.logger.Info("Resolving cancellation", slog.String("choice", choice.String()))

	switch choice {
	case ChoiceAbort:
		return s.resolveAbort()
	case ChoiceSave:
		return s.resolveSave()
	case ChoiceDiscard:
		return s.resolveDiscard()
	default:
		s.mu.Lock()
		s.cancelState = CancelRequested
		s.mu.Unlock()
		return fmt.Errorf("unknown cancel choice %d", choice)
	}
}

// resolveAbort withdraws the request; capture and dispatch continue.
func (s *Session) resolveAbort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelState = CancelNone
	s.gate.unpause()
	s.logger.Info("Cancellation aborted, capture resumed")
	return nil
}

// resolveSave ends capture keeping completed work: in-flight chunks settle,
// chunks still queued are dropped, pending retries are not attempted.
func (s *Session) resolveSave() error {
	s.mu.Lock()
	seg, pipe, gate := s.seg, s.pipe, s.gate
	s.mu.Unlock()

	gate.halt()
	pipe.CloseQueue()
	pipe.WaitDrained()
	pipe.WaitInflight()
	pipe.DiscardRetries()
	seg.Reset()

	raw, formatted := s.consolidate()

	s.mu.Lock()
	s.state = StateDone
	s.cancelState = CancelTerminal
	s.rawTranscript, s.formattedTranscript = raw, formatted
	events := s.events
	s.mu.Unlock()

	s.emit(events, Event{
		Type:                EventSessionComplete,
		RawTranscript:       raw,
		FormattedTranscript: formatted,
	})
	close(events)

	s.metrics.RecordSessionCompleted()
	s.logger.Info("Session saved on cancellation", slog.Int("transcript_chars", len(formatted)))
	return nil
}

// resolveDiscard cancels in-flight work cooperatively and returns the
// session to its pre-start state.
func (s *Session) resolveDiscard() error {
	s.tableMu.Lock()
	s.discarding = true
	s.tableMu.Unlock()

	s.mu.Lock()
	seg, pipe, gate, runCancel := s.seg, s.pipe, s.gate, s.runCancel
	events := s.events
	s.mu.Unlock()

	gate.halt()
	runCancel()
	pipe.CloseQueue()
	pipe.WaitDrained()
	pipe.WaitInflight()
	pipe.DiscardRetries()
	seg.Reset()

	s.tableMu.Lock()
	s.chunks = make(map[uint64]*audio.Chunk)
	s.order = nil
	s.states = make(map[uint64]audio.ChunkState)
	s.discarding = false
	s.tableMu.Unlock()

	s.mu.Lock()
	s.state = StateIdle
	s.cancelState = CancelNone
	s.authHalted = false
	s.rawTranscript, s.formattedTranscript = "", ""
	s.mu.Unlock()

	close(events)
	s.logger.Info("Session discarded")
	return nil
}

// Events returns the consumer event channel for the current run. The
// channel is closed when the session reaches a terminal state or is
// discarded.
func (s *Session) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Transcripts returns the consolidated transcripts of a completed session.
func (s *Session) Transcripts() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawTranscript, s.formattedTranscript
}

// registerChunk records an emitted chunk in the canonical table and
// announces it as queued.
func (s *Session) registerChunk(chunk *audio.Chunk) {
	s.tableMu.Lock()
	s.chunks[chunk.ID] = chunk
	s.order = append(s.order, chunk.ID)
	s.states[chunk.ID] = audio.StateQueued
	s.tableMu.Unlock()

	s.metrics.RecordChunkEmitted(chunk.Duration(), chunk.SplitReason)

	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	s.emit(events, Event{
		Type:       EventChunk,
		ChunkID:    chunk.ID,
		ChunkState: audio.StateQueued,
	})
}

// onPipelineEvent forwards pipeline state changes to the consumer and
// keeps the state ledger for snapshots.
func (s *Session) onPipelineEvent(ev pipeline.Event) {
	s.tableMu.Lock()
	if s.discarding {
		s.tableMu.Unlock()
		return
	}
	s.states[ev.ChunkID] = ev.State
	s.tableMu.Unlock()

	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	s.emit(events, Event{
		Type:          EventChunk,
		ChunkID:       ev.ChunkID,
		ChunkState:    ev.State,
		RawText:       ev.RawText,
		FormattedText: ev.FormattedText,
		Err:           ev.Err,
		Retries:       ev.Retries,
	})
}

// onAuthError halts dispatch of new chunks; in-flight chunks settle on
// their own.
func (s *Session) onAuthError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authHalted {
		return
	}
	s.authHalted = true
	s.gate.halt()
	s.logger.Error("Authentication failure, halting new dispatch")
}

// emit delivers an event without blocking a pipeline worker; a saturated
// consumer loses events rather than stalling transcription.
func (s *Session) emit(events chan Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
		s.tableMu.Lock()
		s.eventsDropped++
		dropped := s.eventsDropped
		s.tableMu.Unlock()
		s.logger.Warn("Event dropped, consumer too slow",
			slog.Uint64("chunk_id", ev.ChunkID),
			slog.Uint64("total_dropped", dropped))
	}
}

// consolidate assembles transcripts from the chunk table in ascending id
// order. Callers must ensure the pipeline has settled.
func (s *Session) consolidate() (string, string) {
	s.tableMu.Lock()
	ordered := make([]*audio.Chunk, 0, len(s.order))
	for _, id := range s.order {
		ordered = append(ordered, s.chunks[id])
	}
	s.tableMu.Unlock()

	return pipeline.Consolidate(ordered, s.config.ErrorPlaceholder)
}

// Snapshot returns a point-in-time view for monitoring.
func (s *Session) Snapshot() SessionInfo {
	s.mu.Lock()
	state := s.state
	cancelState := s.cancelState
	authHalted := s.authHalted
	seg, pipe := s.seg, s.pipe
	s.mu.Unlock()

	info := SessionInfo{
		State:       state.String(),
		CancelState: cancelState.String(),
		AuthHalted:  authHalted,
		ChunkCounts: make(map[string]int),
	}

	s.tableMu.Lock()
	for _, st := range s.states {
		info.ChunkCounts[st.String()]++
	}
	info.EventsDropped = s.eventsDropped
	s.tableMu.Unlock()

	if seg != nil {
		stats := seg.GetStats()
		info.Segmenter = &stats
	}
	if pipe != nil {
		stats := pipe.GetStats()
		info.Pipeline = &stats
	}
	return info
}

func sampleDuration(samples, rate int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
