package pipeline

import (
	"sort"
	"sync"
	"time"
)

// RetryRule describes how failures of one kind are retried
type RetryRule struct {
	Retryable   bool
	Delay       time.Duration
	MaxAttempts int
}

// RuleFor returns the retry rule for an error kind. The table is fixed:
// timeouts retry immediately, rate limits wait out the limiter window,
// transient network errors back off briefly, auth failures never retry.
func RuleFor(kind Kind) RetryRule {
	switch kind {
	case KindNetworkTimeout:
		return RetryRule{Retryable: true, Delay: 0, MaxAttempts: 1}
	case KindRateLimited:
		return RetryRule{Retryable: true, Delay: 60 * time.Second, MaxAttempts: 1}
	case KindNetworkError:
		return RetryRule{Retryable: true, Delay: 5 * time.Second, MaxAttempts: 1}
	case KindAuth:
		return RetryRule{Retryable: false}
	default:
		return RetryRule{Retryable: true, Delay: 10 * time.Second, MaxAttempts: 1}
	}
}

// retryEntry is a chunk awaiting its deferred retry
type retryEntry struct {
	chunkID uint64
	readyAt time.Time
}

// retryQueue collects chunks that failed retryably during live capture.
// Retries run as a batch pass after capture ends, so network stalls never
// hold up live segmentation.
type retryQueue struct {
	mu      sync.Mutex
	entries []retryEntry
}

func (q *retryQueue) schedule(chunkID uint64, readyAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, retryEntry{chunkID: chunkID, readyAt: readyAt})
}

// drain removes and returns all scheduled entries ordered by readiness
func (q *retryQueue) drain() []retryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil
	sort.Slice(out, func(i, j int) bool {
		return out[i].readyAt.Before(out[j].readyAt)
	})
	return out
}

func (q *retryQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *retryQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
