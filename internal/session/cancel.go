package session

import (
	"context"
	"sync"

	"github.com/skypro1111/realtime-asr-service/internal/pipeline"
)

// CancelChoice resolves a pending cancellation request
type CancelChoice int

const (
	// ChoiceSave ends capture and keeps everything already transcribed.
	ChoiceSave CancelChoice = iota
	// ChoiceDiscard throws the session away and returns to idle.
	ChoiceDiscard
	// ChoiceAbort withdraws the cancellation request and resumes.
	ChoiceAbort
)

// String returns a human-readable choice name
func (c CancelChoice) String() string {
	switch c {
	case ChoiceSave:
		return "save"
	case ChoiceDiscard:
		return "discard"
	case ChoiceAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// CancelState tracks the cancellation state machine
type CancelState int

const (
	CancelNone CancelState = iota
	CancelRequested
	CancelResolving
	CancelTerminal
)

// String returns a human-readable state name
func (s CancelState) String() string {
	switch s {
	case CancelNone:
		return "none"
	case CancelRequested:
		return "requested"
	case CancelResolving:
		return "resolving"
	case CancelTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// dispatchGate implements pipeline.Gate for the session. Pausing blocks the
// dispatcher while a cancellation request is pending; halting stops
// dispatch permanently (Save resolution or auth escalation).
type dispatchGate struct {
	mu     sync.Mutex
	paused bool
	halted bool
	resume chan struct{}
}

func newDispatchGate() *dispatchGate {
	return &dispatchGate{resume: make(chan struct{})}
}

// Wait blocks while the gate is paused. Returns pipeline.ErrHalted once the
// gate is halted, or the context error on cancellation.
func (g *dispatchGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.halted {
			g.mu.Unlock()
			return pipeline.ErrHalted
		}
		if !g.paused {
			g.mu.Unlock()
			return ctx.Err()
		}
		ch := g.resume
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *dispatchGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused && !g.halted {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *dispatchGate) unpause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

func (g *dispatchGate) halt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.halted {
		return
	}
	g.halted = true
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}
