package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
	"github.com/skypro1111/realtime-asr-service/internal/boundary"
	"github.com/skypro1111/realtime-asr-service/internal/pipeline"
	"github.com/skypro1111/realtime-asr-service/internal/segment"
)

const testRate = 1000

func testConfig() Config {
	return Config{
		Boundary: boundary.Config{
			SampleRate:   testRate,
			NoiseFloor:   0.01,
			LongSilence:  1500 * time.Millisecond,
			ShortSilence: 500 * time.Millisecond,
		},
		Segmenter: segment.Config{
			SampleRate:         testRate,
			Language:           "en",
			MinChunkDuration:   60 * time.Second,
			SilenceCheckStart:  90 * time.Second,
			PrioritySplitStart: 110 * time.Second,
			MaxChunkDuration:   120 * time.Second,
			SearchWindow:       500 * time.Millisecond,
		},
		Pipeline: pipeline.Config{
			Workers: 2,
		},
		ErrorPlaceholder: "[failed]",
		EventBuffer:      1024,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedASR returns per-chunk results by id
type scriptedASR struct {
	mu    sync.Mutex
	fn    func(id uint64, attempt int) (string, error)
	calls map[uint64]int
}

func newScriptedASR(fn func(id uint64, attempt int) (string, error)) *scriptedASR {
	return &scriptedASR{fn: fn, calls: make(map[uint64]int)}
}

func (a *scriptedASR) Transcribe(ctx context.Context, chunk *audio.Chunk) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	a.calls[chunk.ID]++
	attempt := a.calls[chunk.ID]
	a.mu.Unlock()
	return a.fn(chunk.ID, attempt)
}

func newTestSession(t *testing.T, asr pipeline.Transcriber) *Session {
	t.Helper()
	s, err := NewSession(testConfig(), asr, nil, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

// feed appends seconds of constant-amplitude audio in 100ms steps
func feed(t *testing.T, s *Session, seconds float64, value int16) {
	t.Helper()
	step := make([]int16, testRate/10)
	for i := range step {
		step[i] = value
	}
	for fed := 0.0; fed < seconds; fed += 0.1 {
		if err := s.AppendSamples(step); err != nil {
			t.Fatalf("AppendSamples failed: %v", err)
		}
	}
}

// waitForChunkState blocks until the event stream reports the chunk in the
// given state
func waitForChunkState(t *testing.T, events <-chan Event, chunkID uint64, state audio.ChunkState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("Event stream closed before chunk %d reached %s", chunkID, state)
			}
			if ev.Type == EventChunk && ev.ChunkID == chunkID && ev.ChunkState == state {
				return
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for chunk %d to reach %s", chunkID, state)
		}
	}
}

func TestSessionFullFlow(t *testing.T) {
	asr := newScriptedASR(func(id uint64, _ int) (string, error) {
		return fmt.Sprintf("chunk %d text", id), nil
	})
	s := newTestSession(t, asr)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := s.Events()

	feed(t, s, 150, 5000)
	raw, formatted, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// 150s of featureless audio: forced chunk at 120s plus the final flush
	want := "chunk 0 text\nchunk 1 text"
	if raw != want {
		t.Errorf("Expected transcript %q, got %q", want, raw)
	}
	if formatted != want {
		t.Errorf("Expected formatted transcript %q, got %q", want, formatted)
	}

	// The event stream ends with the session-complete event carrying the
	// same transcripts, then closes.
	var last Event
	for ev := range events {
		last = ev
	}
	if last.Type != EventSessionComplete {
		t.Fatalf("Expected session complete event last, got %+v", last)
	}
	if last.RawTranscript != want {
		t.Errorf("Expected transcript in complete event, got %q", last.RawTranscript)
	}

	info := s.Snapshot()
	if info.State != "done" {
		t.Errorf("Expected done state, got %s", info.State)
	}
	if info.ChunkCounts["completed"] != 2 {
		t.Errorf("Expected 2 completed chunks, got %+v", info.ChunkCounts)
	}
}

func TestSessionEventOrderPerChunk(t *testing.T) {
	asr := newScriptedASR(func(id uint64, _ int) (string, error) {
		return "text", nil
	})
	s := newTestSession(t, asr)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := s.Events()

	feed(t, s, 150, 5000)
	if _, _, err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	seen := make(map[uint64][]audio.ChunkState)
	for ev := range events {
		if ev.Type == EventChunk {
			seen[ev.ChunkID] = append(seen[ev.ChunkID], ev.ChunkState)
		}
	}
	for id, states := range seen {
		want := []audio.ChunkState{audio.StateQueued, audio.StateProcessing, audio.StateCompleted}
		if len(states) != len(want) {
			t.Fatalf("Chunk %d: expected %d events, got %v", id, len(want), states)
		}
		for i, st := range want {
			if states[i] != st {
				t.Errorf("Chunk %d: event %d expected %s, got %s", id, i, st, states[i])
			}
		}
	}
}

func TestAppendBeforeStart(t *testing.T) {
	s := newTestSession(t, newScriptedASR(func(uint64, int) (string, error) { return "", nil }))
	if err := s.AppendSamples(make([]int16, 100)); err == nil {
		t.Error("Expected error appending before start")
	}
	if _, _, err := s.Stop(); err == nil {
		t.Error("Expected error stopping before start")
	}
}

func TestDoubleStart(t *testing.T) {
	s := newTestSession(t, newScriptedASR(func(uint64, int) (string, error) { return "", nil }))
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("Expected error on second start")
	}
}

func TestCancelSaveKeepsCompleted(t *testing.T) {
	asr := newScriptedASR(func(id uint64, _ int) (string, error) {
		return fmt.Sprintf("saved %d", id), nil
	})
	s := newTestSession(t, asr)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := s.Events()

	// chunk 0 is emitted at 120s and completes quickly
	feed(t, s, 130, 5000)
	waitForChunkState(t, events, 0, audio.StateCompleted)

	if err := s.RequestCancel(); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if err := s.ResolveCancel(ChoiceSave); err != nil {
		t.Fatalf("ResolveCancel(save) failed: %v", err)
	}

	raw, _ := s.Transcripts()
	if raw != "saved 0" {
		t.Errorf("Expected only the completed chunk, got %q", raw)
	}

	info := s.Snapshot()
	if info.State != "done" {
		t.Errorf("Expected done state, got %s", info.State)
	}
	if info.CancelState != "terminal" {
		t.Errorf("Expected terminal cancel state, got %s", info.CancelState)
	}

	// the save ends the session for good
	if err := s.AppendSamples(make([]int16, 100)); err == nil {
		t.Error("Expected append rejected after save")
	}
	if _, _, err := s.Stop(); err == nil {
		t.Error("Expected stop rejected after save")
	}
}

func TestCancelDiscardResetsSession(t *testing.T) {
	asr := newScriptedASR(func(id uint64, _ int) (string, error) {
		return "discarded text", nil
	})
	s := newTestSession(t, asr)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := s.Events()

	feed(t, s, 130, 5000)
	waitForChunkState(t, events, 0, audio.StateCompleted)

	if err := s.RequestCancel(); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if err := s.ResolveCancel(ChoiceDiscard); err != nil {
		t.Fatalf("ResolveCancel(discard) failed: %v", err)
	}

	// session is equivalent to pre-start
	info := s.Snapshot()
	if info.State != "idle" {
		t.Errorf("Expected idle state, got %s", info.State)
	}
	if info.CancelState != "none" {
		t.Errorf("Expected none cancel state, got %s", info.CancelState)
	}
	if len(info.ChunkCounts) != 0 {
		t.Errorf("Expected empty chunk table, got %+v", info.ChunkCounts)
	}
	if raw, formatted := s.Transcripts(); raw != "" || formatted != "" {
		t.Errorf("Expected empty transcripts, got %q / %q", raw, formatted)
	}

	// a fresh session starts from chunk id 0
	if err := s.Start(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	feed(t, s, 30, 5000)
	raw, _, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if raw != "discarded text" {
		t.Errorf("Expected fresh session transcript, got %q", raw)
	}
}

func TestCancelAbortResumes(t *testing.T) {
	asr := newScriptedASR(func(id uint64, _ int) (string, error) {
		return fmt.Sprintf("part %d", id), nil
	})
	s := newTestSession(t, asr)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	feed(t, s, 50, 5000)

	if err := s.RequestCancel(); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	// while the request is pending, capture is paused: appended samples
	// are dropped and no chunk may be emitted
	feed(t, s, 200, 5000)
	info := s.Snapshot()
	if info.ChunkCounts["queued"]+info.ChunkCounts["processing"]+info.ChunkCounts["completed"] != 0 {
		t.Errorf("Expected no chunks while cancel pending, got %+v", info.ChunkCounts)
	}

	if err := s.ResolveCancel(ChoiceAbort); err != nil {
		t.Fatalf("ResolveCancel(abort) failed: %v", err)
	}

	info = s.Snapshot()
	if info.State != "recording" {
		t.Errorf("Expected recording after abort, got %s", info.State)
	}
	if info.CancelState != "none" {
		t.Errorf("Expected cancel state none after abort, got %s", info.CancelState)
	}

	// capture continues from where it paused (50s fed so far)
	feed(t, s, 30, 5000)
	raw, _, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if raw != "part 0" {
		t.Errorf("Expected single-chunk transcript, got %q", raw)
	}
}

func TestRequestCancelStates(t *testing.T) {
	s := newTestSession(t, newScriptedASR(func(uint64, int) (string, error) { return "", nil }))

	if err := s.RequestCancel(); err == nil {
		t.Error("Expected error cancelling idle session")
	}
	if err := s.ResolveCancel(ChoiceAbort); err == nil {
		t.Error("Expected error resolving without request")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.RequestCancel(); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if err := s.RequestCancel(); err == nil {
		t.Error("Expected error on duplicate cancel request")
	}
	if _, _, err := s.Stop(); err == nil {
		t.Error("Expected stop rejected while cancellation pending")
	}
}

func TestAuthErrorHaltsSession(t *testing.T) {
	asr := newScriptedASR(func(id uint64, _ int) (string, error) {
		return "", pipeline.NewStageError("transcribe", pipeline.KindAuth, errors.New("bad key"))
	})
	s := newTestSession(t, asr)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := s.Events()

	feed(t, s, 130, 5000)
	waitForChunkState(t, events, 0, audio.StateError)

	info := s.Snapshot()
	if !info.AuthHalted {
		t.Error("Expected auth halt after auth error")
	}

	// chunks emitted after the halt are never dispatched
	feed(t, s, 130, 5000)
	raw, _, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// the transcript carries only the error placeholder for chunk 0;
	// undispatched chunks contribute nothing
	if raw != "[failed]" {
		t.Errorf("Expected placeholder-only transcript, got %q", raw)
	}

	info = s.Snapshot()
	if info.ChunkCounts["queued"] == 0 {
		t.Errorf("Expected undispatched chunks to remain queued, got %+v", info.ChunkCounts)
	}
}

func TestErrorPlaceholderInTranscript(t *testing.T) {
	asr := newScriptedASR(func(id uint64, attempt int) (string, error) {
		if id == 1 {
			// non-retryable after budget: unknown kind fails twice
			return "", pipeline.NewStageError("transcribe", pipeline.KindNetworkTimeout, errors.New("stall"))
		}
		return fmt.Sprintf("ok %d", id), nil
	})
	s := newTestSession(t, asr)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	feed(t, s, 260, 5000)
	raw, _, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !strings.Contains(raw, "[failed]") {
		t.Errorf("Expected error placeholder in transcript, got %q", raw)
	}
	if !strings.Contains(raw, "ok 0") || !strings.Contains(raw, "ok 2") {
		t.Errorf("Expected surviving chunks around the placeholder, got %q", raw)
	}
	lines := strings.Split(raw, "\n")
	if len(lines) != 3 || lines[1] != "[failed]" {
		t.Errorf("Expected placeholder in slot 1, got %v", lines)
	}
}
