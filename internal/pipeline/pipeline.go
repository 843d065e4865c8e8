package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
	"github.com/skypro1111/realtime-asr-service/internal/metrics"
)

// ErrHalted is returned by a Gate when dispatch must stop permanently
// (auth escalation or a Save resolution).
var ErrHalted = errors.New("dispatch halted")

// Transcriber converts chunk audio to raw text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk *audio.Chunk) (string, error)
}

// Formatter polishes raw transcription text.
type Formatter interface {
	Format(ctx context.Context, text string) (string, error)
}

// Gate controls dispatch. Wait blocks while dispatch is paused (a pending
// cancellation request), returns nil when dispatch may proceed, and returns
// ErrHalted when no further chunks may be dispatched.
type Gate interface {
	Wait(ctx context.Context) error
}

// openGate never pauses; used when no session-level control is attached.
type openGate struct{}

func (openGate) Wait(ctx context.Context) error { return ctx.Err() }

// Event is a chunk state transition notification
type Event struct {
	ChunkID       uint64
	State         audio.ChunkState
	RawText       string
	FormattedText string
	Err           error
	Retries       int
}

// Config holds pipeline configuration
type Config struct {
	// Workers is the fixed pool size. Default 3.
	Workers int
	// FormatEnabled runs the format stage after transcription.
	FormatEnabled bool
	// ReclaimEvery triggers a bulk reclamation pass after this many
	// completed chunks. Default 10.
	ReclaimEvery int
	// QueueSize bounds the dispatch queue. Default 128.
	QueueSize int

	// Notify receives chunk state transitions. Called from worker
	// goroutines; must not block.
	Notify func(Event)
	// OnAuthError is called once per auth failure so the session can halt
	// new dispatch.
	OnAuthError func()
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = 3
	}
	if out.ReclaimEvery <= 0 {
		out.ReclaimEvery = 10
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 128
	}
	return out
}

// PipelineStats represents pipeline counters for monitoring
type PipelineStats struct {
	Dispatched     uint64 `json:"dispatched"`
	Completed      uint64 `json:"completed"`
	Errored        uint64 `json:"errored"`
	RetriesQueued  uint64 `json:"retries_queued"`
	PendingRetries int    `json:"pending_retries"`
}

// Pipeline processes chunks through the external stages with a fixed-size
// worker pool. Chunks are dispatched in the order they were enqueued;
// completion order is not guaranteed and consumers must order by chunk id.
type Pipeline struct {
	config    Config
	asr       Transcriber
	formatter Formatter
	gate      Gate
	clock     Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	queue     chan *audio.Chunk
	work      chan *audio.Chunk
	closeOnce sync.Once
	inflight  sync.WaitGroup
	workers   sync.WaitGroup

	retries retryQueue

	mu         sync.Mutex
	pending    map[uint64]*audio.Chunk // chunks held for deferred retry
	dispatched uint64
	completed  uint64
	errored    uint64
	retried    uint64
}

// New creates a pipeline. asr is required; formatter may be nil when the
// format stage is disabled; gate and clock fall back to permissive
// defaults.
func New(config Config, asr Transcriber, formatter Formatter, gate Gate, clock Clock, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if asr == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	cfg := config.withDefaults()
	if cfg.FormatEnabled && formatter == nil {
		return nil, fmt.Errorf("format stage enabled but no formatter provided")
	}
	if gate == nil {
		gate = openGate{}
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Pipeline{
		config:    cfg,
		asr:       asr,
		formatter: formatter,
		gate:      gate,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		queue:     make(chan *audio.Chunk, cfg.QueueSize),
		work:      make(chan *audio.Chunk),
		pending:   make(map[uint64]*audio.Chunk),
	}, nil
}

// Start launches the dispatcher and worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		p.workers.Add(1)
		go func(id int) {
			defer p.workers.Done()
			for chunk := range p.work {
				p.process(ctx, chunk)
				p.inflight.Done()
			}
		}(i)
	}

	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		defer close(p.work)
		for chunk := range p.queue {
			// a pending cancellation or halt is observed here, before
			// the chunk is handed to a worker
			if err := p.gate.Wait(ctx); err != nil {
				p.logger.Info("Dispatch stopped",
					slog.String("reason", err.Error()),
					slog.Uint64("chunk_id", chunk.ID))
				return
			}
			p.mu.Lock()
			p.dispatched++
			p.mu.Unlock()
			p.inflight.Add(1)
			p.work <- chunk
		}
	}()
}

// Enqueue submits a Queued chunk for dispatch.
func (p *Pipeline) Enqueue(chunk *audio.Chunk) {
	p.queue <- chunk
}

// CloseQueue signals that no more chunks will be enqueued. Safe to call
// more than once.
func (p *Pipeline) CloseQueue() {
	p.closeOnce.Do(func() { close(p.queue) })
}

// WaitDrained blocks until the dispatcher and all workers have exited,
// i.e. after CloseQueue, a halt, or context cancellation.
func (p *Pipeline) WaitDrained() {
	p.workers.Wait()
}

// WaitInflight blocks until chunks currently being processed settle. Only
// meaningful once dispatch is paused or halted.
func (p *Pipeline) WaitInflight() {
	p.inflight.Wait()
}

// RunRetries executes the deferred batch retry pass: chunks that failed
// retryably during live capture are re-processed, each after its policy
// delay, on a pool of the same size as the live one.
func (p *Pipeline) RunRetries(ctx context.Context) {
	entries := p.retries.drain()
	if len(entries) == 0 {
		return
	}
	p.logger.Info("Starting batch retry pass", slog.Int("chunks", len(entries)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for _, entry := range entries {
		if err := p.gate.Wait(ctx); err != nil {
			p.logger.Info("Batch retry pass stopped", slog.String("reason", err.Error()))
			break
		}
		if wait := entry.readyAt.Sub(p.clock.Now()); wait > 0 {
			if err := p.clock.Sleep(ctx, wait); err != nil {
				break
			}
		}
		chunk := p.takePending(entry.chunkID)
		if chunk == nil {
			continue
		}
		g.Go(func() error {
			p.process(ctx, chunk)
			return nil
		})
	}
	// workers never return errors; Wait is for completion only
	_ = g.Wait()
}

// DiscardRetries drops all deferred retries without running them.
func (p *Pipeline) DiscardRetries() {
	p.retries.clear()
	p.mu.Lock()
	p.pending = make(map[uint64]*audio.Chunk)
	p.mu.Unlock()
}

// process runs one chunk through the stages and settles its state.
func (p *Pipeline) process(ctx context.Context, chunk *audio.Chunk) {
	chunk.State = audio.StateProcessing
	p.notify(Event{ChunkID: chunk.ID, State: audio.StateProcessing, Retries: chunk.Retries})

	start := p.clock.Now()
	raw, err := p.asr.Transcribe(ctx, chunk)
	p.metrics.RecordStageDuration("transcribe", p.clock.Now().Sub(start))
	if err != nil {
		p.fail(ctx, chunk, "transcribe", err)
		return
	}
	chunk.RawText = raw

	if p.config.FormatEnabled {
		start = p.clock.Now()
		formatted, err := p.formatter.Format(ctx, raw)
		p.metrics.RecordStageDuration("format", p.clock.Now().Sub(start))
		if err != nil {
			p.fail(ctx, chunk, "format", err)
			return
		}
		chunk.FormattedText = formatted
	}

	chunk.State = audio.StateCompleted
	chunk.ReleaseAudio()
	p.metrics.RecordChunkCompleted()

	p.mu.Lock()
	p.completed++
	reclaim := p.completed%uint64(p.config.ReclaimEvery) == 0
	p.mu.Unlock()

	p.notify(Event{
		ChunkID:       chunk.ID,
		State:         audio.StateCompleted,
		RawText:       chunk.RawText,
		FormattedText: chunk.FormattedText,
		Retries:       chunk.Retries,
	})

	if reclaim {
		p.reclaim()
	}
}

// fail classifies a stage error and either schedules a deferred retry or
// settles the chunk as Error.
func (p *Pipeline) fail(ctx context.Context, chunk *audio.Chunk, stage string, err error) {
	// a cooperative cancel is not a stage failure to retry
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		p.settleError(chunk, err)
		return
	}

	kind := KindOf(err)
	p.metrics.RecordStageError(stage, kind.String())

	if kind == KindAuth && p.config.OnAuthError != nil {
		p.config.OnAuthError()
	}

	rule := RuleFor(kind)
	if rule.Retryable && chunk.Retries < rule.MaxAttempts {
		chunk.Retries++
		p.mu.Lock()
		p.retried++
		p.pending[chunk.ID] = chunk
		p.mu.Unlock()
		p.retries.schedule(chunk.ID, p.clock.Now().Add(rule.Delay))
		p.metrics.RecordRetryScheduled(kind.String())
		p.logger.Warn("Chunk failed, retry deferred",
			slog.Uint64("chunk_id", chunk.ID),
			slog.String("stage", stage),
			slog.String("kind", kind.String()),
			slog.Duration("delay", rule.Delay),
			slog.Int("attempt", chunk.Retries))
		// state remains Processing: the chunk is pending retry
		return
	}

	p.settleError(chunk, err)
	p.logger.Error("Chunk failed permanently",
		slog.Uint64("chunk_id", chunk.ID),
		slog.String("stage", stage),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()))
}

func (p *Pipeline) settleError(chunk *audio.Chunk, err error) {
	chunk.State = audio.StateError
	chunk.Err = err
	chunk.ReleaseAudio()
	p.metrics.RecordChunkError()

	p.mu.Lock()
	p.errored++
	p.mu.Unlock()

	p.notify(Event{
		ChunkID: chunk.ID,
		State:   audio.StateError,
		Err:     err,
		Retries: chunk.Retries,
	})
}

func (p *Pipeline) takePending(chunkID uint64) *audio.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	chunk := p.pending[chunkID]
	delete(p.pending, chunkID)
	return chunk
}

// reclaim drops references to settled chunks held for retry bookkeeping.
func (p *Pipeline) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, chunk := range p.pending {
		if chunk.Terminal() {
			delete(p.pending, id)
		}
	}
}

func (p *Pipeline) notify(ev Event) {
	if p.config.Notify != nil {
		p.config.Notify(ev)
	}
}

// GetStats returns current pipeline counters
func (p *Pipeline) GetStats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipelineStats{
		Dispatched:     p.dispatched,
		Completed:      p.completed,
		Errored:        p.errored,
		RetriesQueued:  p.retried,
		PendingRetries: p.retries.pending(),
	}
}
