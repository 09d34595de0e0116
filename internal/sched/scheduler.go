package sched

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/oaf-tools/scraperutils/internal/config"
	"github.com/oaf-tools/scraperutils/internal/delay"
	"github.com/oaf-tools/scraperutils/internal/observability"
	"github.com/oaf-tools/scraperutils/internal/pool"
	"github.com/oaf-tools/scraperutils/internal/types"
)

// PollPeriod is how long the main loop sleeps when no worker is due.
const PollPeriod = 10 * time.Millisecond

// exitThreshold: runs capped at an hour or more force a process exit on
// timeout so stuck deployments surface in their supervisor.
const exitThreshold = time.Hour

// Scheduler drives all operation workers from a single thread: it drains
// pool responses, wakes the worker whose resume_at is earliest, enforces
// per-domain delays and the overall run timeout, and isolates failures
// per authority.
type Scheduler struct {
	cfg    *config.Config
	logger *slog.Logger
	clk    clock.Clock

	pool     *pool.Pool
	registry *Registry
	delays   *delay.AdaptiveDelay
	stats    *observability.Stats
	quality  *observability.RecordQuality

	exceptions map[types.Authority]error
	current    *Operation

	rng      *rand.Rand
	nextID   uint64
	nextSeq  int64
	draining bool

	allow     map[types.Authority]bool
	expectBad map[types.Authority]bool

	// onTimeout is invoked with exit code 124 when the overall run
	// timeout expires. Replaceable for tests via SetTimeoutHook.
	onTimeout func(code int)
}

// New creates a Scheduler using the wall clock.
func New(cfg *config.Config, logger *slog.Logger) *Scheduler {
	return NewWithClock(cfg, logger, clock.New())
}

// NewWithClock creates a Scheduler on the given clock.
func NewWithClock(cfg *config.Config, logger *slog.Logger, clk clock.Clock) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
		clk:    clk,
		rng:    rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
	s.allow = authoritySet(cfg.Scheduler.Authorities)
	s.expectBad = authoritySet(cfg.Scheduler.ExpectBad)
	s.onTimeout = func(code int) {
		if cfg.Scheduler.Timeout >= exitThreshold {
			os.Exit(code)
		}
	}
	s.initState()
	return s
}

func (s *Scheduler) initState() {
	s.pool = pool.New(s.cfg.Scheduler.MaxWorkers, s.cfg.Client.Timeout, s.logger)
	s.registry = NewRegistry(s.logger)
	s.delays = delay.New(delay.Config{
		MinDelay: s.cfg.Delay.MinDelay,
		MaxDelay: s.cfg.Delay.MaxDelay,
		MaxLoad:  s.cfg.Delay.MaxLoad,
	}, s.logger)
	s.stats = observability.NewStats(s.clk.Now())
	s.quality = observability.NewRecordQuality()
	s.exceptions = make(map[types.Authority]error)
	s.current = nil
}

// SetTimeoutHook replaces the timeout hook.
func (s *Scheduler) SetTimeoutHook(fn func(code int)) { s.onTimeout = fn }

// Stats returns the run statistics.
func (s *Scheduler) Stats() *observability.Stats { return s.stats }

// Quality returns the per-authority record quality tracker.
func (s *Scheduler) Quality() *observability.RecordQuality { return s.quality }

// Registry returns the operation registry.
func (s *Scheduler) Registry() *Registry { return s.registry }

// RegisterOperation creates a worker running fn for the authority. When
// an allow-list is configured, unlisted authorities are skipped. Once
// registrations reach max_workers the scheduler drains them by running
// operations before accepting more.
func (s *Scheduler) RegisterOperation(authority types.Authority, fn Handler) error {
	if s.allow != nil && !s.allow[authority] {
		s.logger.Info("authority not in allow-list, skipping", "authority", authority)
		return nil
	}

	s.nextID++
	w := newOperation(s.nextID, authority, s.clk.Now(), fn)
	if s.cfg.Scheduler.Randomize {
		w.seq = s.rng.Int63()
	} else {
		s.nextSeq++
		w.seq = s.nextSeq
	}

	if err := s.registry.Register(w); err != nil {
		w.close()
		return err
	}
	s.stats.OperationsRegistered.Add(1)
	s.logger.Debug("operation registered", "authority", authority, "live", s.registry.Size())

	if s.cfg.Scheduler.MaxWorkers > 0 && !s.draining && s.registry.Size() >= s.cfg.Scheduler.MaxWorkers {
		s.RunOperations()
	}
	return nil
}

// CurrentAuthority returns the authority of the operation currently
// executing, or false when called from outside any operation.
func (s *Scheduler) CurrentAuthority() (types.Authority, bool) {
	if s.current == nil {
		return "", false
	}
	return s.current.authority, true
}

// ExecuteRequest performs a client call on behalf of the calling code.
// Inside an operation block it suspends the operation cooperatively;
// outside one it simply executes the call inline.
func (s *Scheduler) ExecuteRequest(client types.Client, method string, args ...any) (any, error) {
	if s.current != nil {
		return s.current.ExecuteRequest(client, method, args...)
	}
	resp := pool.Execute(context.Background(), s.cfg.Client.Timeout, types.NewProcessRequest("", client, method, args...))
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Result, nil
}

// RunOperations runs the main loop until every worker has finished or
// the overall timeout expires. It returns the accumulated per-authority
// exceptions.
func (s *Scheduler) RunOperations() map[types.Authority]error {
	s.draining = true
	defer func() { s.draining = false }()

	deadline := s.clk.Now().Add(s.cfg.Scheduler.Timeout)

	for !s.registry.Empty() {
		if !s.clk.Now().Before(deadline) {
			s.handleTimeout()
			break
		}

		s.drainResponses()

		candidates := s.registry.Resumable()
		if len(candidates) == 0 {
			// Everything is waiting on I/O.
			s.clk.Sleep(PollPeriod)
			s.stats.AddWaitResponse(PollPeriod)
			continue
		}

		w := candidates[0]
		if !w.alive() {
			s.logger.Warn("dead worker still registered, removing", "authority", w.authority)
			s.registry.Deregister(w.authority)
			continue
		}

		now := s.clk.Now()
		if w.resumeAt.After(now) {
			// Earliest worker is not due yet; a response landing during
			// this nap may allow an earlier resume next iteration.
			d := w.resumeAt.Sub(now)
			if d > PollPeriod {
				d = PollPeriod
			}
			s.clk.Sleep(d)
			s.stats.AddWaitDelay(d)
			continue
		}

		s.step(w)
	}

	return s.Exceptions()
}

// Exceptions returns a copy of the per-authority failure map.
func (s *Scheduler) Exceptions() map[types.Authority]error {
	out := make(map[types.Authority]error, len(s.exceptions))
	for a, err := range s.exceptions {
		out[a] = err
	}
	return out
}

// Reset reinitialises all scheduler state, as between retries. Workers
// are terminated (their defers run); in-flight pool requests finish in
// the background and their responses are discarded.
func (s *Scheduler) Reset() {
	s.registry.Shutdown()
	s.pool.Abandon()
	s.initState()
}

// step resumes one worker and acts on its next suspension.
func (s *Scheduler) step(w *Operation) {
	resp := w.response
	w.response = nil
	s.current = w
	y := w.resume(resp)
	s.current = nil

	switch y.kind {
	case yieldDone:
		s.finish(w, y.err)

	case yieldRequest:
		w.lastRequest = y.request
		s.stats.RequestsSubmitted.Add(1)
		if s.pool.Size() == 0 {
			// Parallelism disabled: perform the call inline.
			s.deliver(w, pool.Execute(context.Background(), s.cfg.Client.Timeout, y.request))
			return
		}
		w.waitingForResponse = true
		w.state = StateWaitingIO
		if err := s.pool.Submit(y.request); err != nil {
			s.deliver(w, &types.ThreadResponse{Authority: w.authority, Err: err})
		}

	case yieldDelay:
		w.resumeAt = s.clk.Now().Add(y.delay)
		w.state = StateSleeping
	}
}

// finish deregisters a completed worker, recording its failure if any.
func (s *Scheduler) finish(w *Operation, err error) {
	w.state = StateDead
	s.registry.Deregister(w.authority)

	switch {
	case err == nil:
		s.stats.OperationsCompleted.Add(1)
		s.logger.Debug("operation completed", "authority", w.authority)
	case errors.Is(err, types.ErrOperationTerminated):
		s.logger.Debug("operation terminated", "authority", w.authority)
	default:
		s.exceptions[w.authority] = err
		s.stats.OperationsFailed.Add(1)
		if s.expectBad[w.authority] {
			s.logger.Warn("operation failed (expected bad)", "authority", w.authority, "error", err)
		} else {
			s.logger.Error("operation failed", "authority", w.authority, "error", err)
		}
	}
}

// deliver stores a response on its worker and schedules the next resume
// after the adaptive per-domain delay.
func (s *Scheduler) deliver(w *Operation, resp *types.ThreadResponse) {
	w.response = resp
	w.waitingForResponse = false
	s.stats.ResponsesReceived.Add(1)
	if resp.Err != nil {
		s.stats.RequestsFailed.Add(1)
	}

	var d time.Duration
	if w.lastRequest != nil && w.lastRequest.URL() != "" {
		d = s.delays.NextDelay(w.lastRequest.URL(), resp.Elapsed)
	}
	w.resumeAt = s.clk.Now().Add(d)
	w.state = StateSleeping
}

// drainResponses routes every completed pool response to its worker.
// Matching is by authority, not arrival order; out-of-order completion
// is expected.
func (s *Scheduler) drainResponses() {
	for {
		resp := s.pool.Poll()
		if resp == nil {
			return
		}
		w := s.registry.Find(resp.Authority)
		if w == nil {
			s.logger.Debug("discarding response for unregistered authority", "authority", resp.Authority)
			continue
		}
		if !w.waitingForResponse {
			s.logger.Warn("response for worker with no request in flight", "authority", resp.Authority)
			continue
		}
		s.deliver(w, resp)
	}
}

// handleTimeout shuts the run down after the wall-clock cap expires.
func (s *Scheduler) handleTimeout() {
	s.logger.Error("overall run timeout exceeded",
		"timeout", s.cfg.Scheduler.Timeout,
		"live_operations", s.registry.Size(),
		"stats", s.stats.Snapshot(),
	)
	s.registry.Shutdown()
	s.pool.Abandon()
	s.pool = pool.New(s.cfg.Scheduler.MaxWorkers, s.cfg.Client.Timeout, s.logger)
	s.onTimeout(124)
}

func authoritySet(names []string) map[types.Authority]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[types.Authority]bool, len(names))
	for _, n := range names {
		set[types.Authority(n)] = true
	}
	return set
}
