// Package observability tracks run statistics and per-authority record
// quality for end-of-run reporting.
package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// Stats tracks scheduler and pool activity for one run.
type Stats struct {
	OperationsRegistered atomic.Int64
	OperationsCompleted  atomic.Int64
	OperationsFailed     atomic.Int64
	RequestsSubmitted    atomic.Int64
	ResponsesReceived    atomic.Int64
	RequestsFailed       atomic.Int64

	// waitResponseNs is time the scheduler spent idle because every
	// resumable worker was waiting on I/O; waitDelayNs is time spent
	// honouring per-domain delays.
	waitResponseNs atomic.Int64
	waitDelayNs    atomic.Int64

	StartTime time.Time
}

// NewStats creates a Stats anchored at now.
func NewStats(now time.Time) *Stats {
	return &Stats{StartTime: now}
}

// AddWaitResponse records scheduler idle time spent waiting for a pool
// response.
func (s *Stats) AddWaitResponse(d time.Duration) {
	s.waitResponseNs.Add(int64(d))
}

// AddWaitDelay records scheduler idle time spent honouring a delay.
func (s *Stats) AddWaitDelay(d time.Duration) {
	s.waitDelayNs.Add(int64(d))
}

// WaitResponse returns total time spent waiting on responses.
func (s *Stats) WaitResponse() time.Duration {
	return time.Duration(s.waitResponseNs.Load())
}

// WaitDelay returns total time spent waiting on delays.
func (s *Stats) WaitDelay() time.Duration {
	return time.Duration(s.waitDelayNs.Load())
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"operations_registered": s.OperationsRegistered.Load(),
		"operations_completed":  s.OperationsCompleted.Load(),
		"operations_failed":     s.OperationsFailed.Load(),
		"requests_submitted":    s.RequestsSubmitted.Load(),
		"responses_received":    s.ResponsesReceived.Load(),
		"requests_failed":       s.RequestsFailed.Load(),
		"wait_response":         s.WaitResponse().String(),
		"wait_delay":            s.WaitDelay().String(),
		"elapsed":               time.Since(s.StartTime).String(),
	}
}

// RecordQuality counts processed and failed records per authority and
// applies the acceptable-failure threshold: up to 5 + 10% of records may
// fail before the authority should be considered broken.
type RecordQuality struct {
	mu     sync.Mutex
	counts map[types.Authority]*recordCounts
}

type recordCounts struct {
	processed int
	failed    int
}

// NewRecordQuality creates an empty tracker.
func NewRecordQuality() *RecordQuality {
	return &RecordQuality{counts: make(map[types.Authority]*recordCounts)}
}

// RecordProcessed counts one good record for the authority.
func (q *RecordQuality) RecordProcessed(a types.Authority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.get(a).processed++
}

// RecordFailed counts one unusable record for the authority.
func (q *RecordQuality) RecordFailed(a types.Authority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.get(a)
	c.failed++
}

// Exceeded reports whether the authority's failures have passed the
// 5 + 10% threshold and it should be marked failed.
func (q *RecordQuality) Exceeded(a types.Authority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.get(a)
	total := c.processed + c.failed
	return c.failed > 5+total/10
}

// Counts returns (processed, failed) for the authority.
func (q *RecordQuality) Counts(a types.Authority) (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.get(a)
	return c.processed, c.failed
}

func (q *RecordQuality) get(a types.Authority) *recordCounts {
	c, ok := q.counts[a]
	if !ok {
		c = &recordCounts{}
		q.counts[a] = c
	}
	return c
}
