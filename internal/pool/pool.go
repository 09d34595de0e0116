// Package pool runs blocking client calls on a fixed set of worker
// goroutines so the cooperative scheduler thread never blocks on I/O.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// Defaults for the thread pool.
const (
	DefaultSize           = 50
	DefaultRequestTimeout = 60 * time.Second

	// pollInterval is how long an idle worker sleeps between queue polls.
	pollInterval = 10 * time.Millisecond
)

// Pool executes submitted requests in parallel and makes the responses
// available on a shared outbound queue. A size of 0 disables parallelism:
// no worker goroutines are created and the caller is expected to use
// Execute directly.
type Pool struct {
	size      int
	timeout   time.Duration
	requests  *queue[*types.ProcessRequest]
	responses *queue[*types.ThreadResponse]
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// New creates a Pool and starts its workers.
func New(size int, timeout time.Duration, logger *slog.Logger) *Pool {
	if size < 0 {
		size = 0
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	p := &Pool{
		size:      size,
		timeout:   timeout,
		requests:  newQueue[*types.ProcessRequest](),
		responses: newQueue[*types.ThreadResponse](),
		logger:    logger.With("component", "thread_pool"),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if size > 0 {
		p.logger.Debug("pool started", "workers", size)
	}
	return p
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Pending returns the number of requests not yet picked up by a worker.
func (p *Pool) Pending() int { return p.requests.len() }

// Submit enqueues a request. Never blocks the caller. Returns
// ErrPoolShutdown after Shutdown has been called.
func (p *Pool) Submit(req *types.ProcessRequest) error {
	if !p.requests.push(req) {
		return types.ErrPoolShutdown
	}
	return nil
}

// Poll returns the next completed response, or nil when none is ready.
func (p *Pool) Poll() *types.ThreadResponse {
	resp, ok := p.responses.tryPop()
	if !ok {
		return nil
	}
	return resp
}

// Shutdown stops accepting new work, waits for in-flight requests to
// finish, and returns any responses not yet polled. Safe to call on an
// empty or zero-sized pool; returns immediately in that case.
func (p *Pool) Shutdown() []*types.ThreadResponse {
	p.requests.close()
	p.wg.Wait()
	remaining := p.responses.drain()
	p.responses.close()
	if len(remaining) > 0 {
		p.logger.Debug("pool drained", "unpolled", len(remaining))
	}
	return remaining
}

// Abandon stops accepting new work without waiting. Workers finish their
// current call in the background and their responses are discarded.
func (p *Pool) Abandon() {
	p.requests.close()
	go func() {
		p.wg.Wait()
		p.responses.close()
	}()
}

// worker pops requests until the inbound queue is closed and empty.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		req, ok := p.requests.tryPop()
		if !ok {
			if p.requests.isClosed() {
				return
			}
			time.Sleep(pollInterval)
			continue
		}
		p.responses.push(Execute(context.Background(), p.timeout, req))
	}
}

// Execute performs one request, timing the client call. A client error is
// captured into the response with its original value preserved; a client
// panic is converted to an error so the calling goroutine never dies.
func Execute(ctx context.Context, timeout time.Duration, req *types.ProcessRequest) (resp *types.ThreadResponse) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = &types.ThreadResponse{
				Authority: req.Authority,
				Err: &types.RequestError{
					Authority: req.Authority,
					Method:    req.Method,
					URL:       req.URL(),
					Err:       fmt.Errorf("client panic: %v", r),
				},
				Elapsed: time.Since(start),
			}
		}
	}()

	result, err := req.Client.Do(ctx, req.Method, req.Args...)
	elapsed := time.Since(start)
	if err != nil {
		return &types.ThreadResponse{
			Authority: req.Authority,
			Err: &types.RequestError{
				Authority: req.Authority,
				Method:    req.Method,
				URL:       req.URL(),
				Err:       err,
			},
			Elapsed: elapsed,
		}
	}
	return &types.ThreadResponse{
		Authority: req.Authority,
		Result:    result,
		Elapsed:   elapsed,
	}
}
