// Package sched interleaves logically sequential scraping operations as
// cooperative tasks on a single scheduler thread, handing their blocking
// HTTP calls to a worker pool so that one site's latency never stalls
// another site's progress.
package sched

import (
	"fmt"
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// State is an operation worker's lifecycle state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateWaitingIO
	StateSleeping
	StateDead
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaitingIO:
		return "waiting_io"
	case StateSleeping:
		return "sleeping"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Handler is the user block for one authority. It may call
// op.ExecuteRequest any number of times and op.Delay to pause explicitly;
// returning nil marks the operation successful.
type Handler func(op *Operation) error

type yieldKind int

const (
	yieldRequest yieldKind = iota
	yieldDelay
	yieldDone
)

// yieldMsg crosses from the task goroutine to the scheduler at each
// suspension point.
type yieldMsg struct {
	kind    yieldKind
	request *types.ProcessRequest
	delay   time.Duration
	err     error
}

// resumeMsg crosses from the scheduler to the task goroutine.
type resumeMsg struct {
	response  *types.ThreadResponse
	terminate bool
}

// termSignal is panicked through the user block on close so deferred
// cleanup runs while the stack unwinds.
type termSignal struct{}

// Operation owns one authority's cooperative task. The task runs on its
// own goroutine but rendezvouses with the scheduler over unbuffered
// channels, so at any instant either the scheduler loop or exactly one
// task is executing. All other fields are touched only by the scheduler
// thread.
type Operation struct {
	authority types.Authority
	id        uint64
	seq       int64

	state              State
	resumeAt           time.Time
	waitingForResponse bool
	response           *types.ThreadResponse
	lastRequest        *types.ProcessRequest

	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg
}

// newOperation creates a worker and starts its task goroutine, which
// parks immediately awaiting the first resume.
func newOperation(id uint64, authority types.Authority, now time.Time, fn Handler) *Operation {
	w := &Operation{
		authority: authority,
		id:        id,
		state:     StateReady,
		resumeAt:  now,
		resumeCh:  make(chan resumeMsg),
		yieldCh:   make(chan yieldMsg),
	}
	go w.run(fn)
	return w
}

// Authority returns the authority this operation scrapes.
func (w *Operation) Authority() types.Authority { return w.authority }

// State returns the worker's current lifecycle state.
func (w *Operation) State() State { return w.state }

// Response returns the last delivered response, or nil.
func (w *Operation) Response() *types.ThreadResponse { return w.response }

// ResumeAt returns the earliest instant the task may be resumed.
func (w *Operation) ResumeAt() time.Time { return w.resumeAt }

// WaitingForResponse reports whether a request is in flight.
func (w *Operation) WaitingForResponse() bool { return w.waitingForResponse }

func (w *Operation) alive() bool { return w.state != StateDead }

// readyAt reports whether the task is eligible to resume at now.
func (w *Operation) readyAt(now time.Time) bool {
	return w.alive() && !w.waitingForResponse && !now.Before(w.resumeAt)
}

// run hosts the user block. Any panic is captured; the termination
// signal unwinds the stack (running defers) and is reported as
// ErrOperationTerminated rather than a failure.
func (w *Operation) run(fn Handler) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(termSignal); ok {
				err = types.ErrOperationTerminated
			} else {
				err = fmt.Errorf("operation %s panicked: %v", w.authority, r)
			}
		}
		w.yieldCh <- yieldMsg{kind: yieldDone, err: err}
	}()

	msg := <-w.resumeCh
	if msg.terminate {
		panic(termSignal{})
	}
	err = fn(w)
}

// ExecuteRequest suspends the task while the scheduler routes the
// request to the thread pool, and returns the result once the matching
// response has been delivered. A client failure is re-raised here as the
// returned error. Only one request may be outstanding at a time, which
// this rendezvous enforces by construction.
func (w *Operation) ExecuteRequest(client types.Client, method string, args ...any) (any, error) {
	req := types.NewProcessRequest(w.authority, client, method, args...)
	w.yieldCh <- yieldMsg{kind: yieldRequest, request: req}

	msg := <-w.resumeCh
	if msg.terminate {
		panic(termSignal{})
	}
	resp := msg.response
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Result, nil
}

// Delay suspends the task for at least d; other operations run in the
// meantime.
func (w *Operation) Delay(d time.Duration) {
	w.yieldCh <- yieldMsg{kind: yieldDelay, delay: d}

	msg := <-w.resumeCh
	if msg.terminate {
		panic(termSignal{})
	}
}

// resume hands control to the task (delivering resp to a pending
// ExecuteRequest, if any) and blocks until its next suspension point.
// Scheduler thread only.
func (w *Operation) resume(resp *types.ThreadResponse) yieldMsg {
	w.state = StateRunning
	w.resumeCh <- resumeMsg{response: resp}
	return <-w.yieldCh
}

// close resumes the task with the termination signal and waits for its
// stack to unwind. Idempotent. Scheduler thread only.
func (w *Operation) close() {
	if w.state == StateDead {
		return
	}
	w.resumeCh <- resumeMsg{terminate: true}
	<-w.yieldCh
	w.state = StateDead
}
