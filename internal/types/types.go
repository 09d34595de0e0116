package types

import (
	"context"
	"fmt"
	"time"
)

// Authority identifies one scraping target (one long-lived operation).
// It is unique within a run and used as the routing key end-to-end.
type Authority string

func (a Authority) String() string { return string(a) }

// Client is the agent the thread pool invokes on behalf of an operation.
// Implementations dispatch on the method name ("get", "post", ...) so a
// single client value can serve every request an operation issues. A client
// held by one operation is only ever used by one pool thread at a time
// because that operation cannot submit a second request until the first
// response has been consumed; a client shared by several operations is
// called from several pool threads at once.
type Client interface {
	Do(ctx context.Context, method string, args ...any) (any, error)
}

// ProcessRequest is the immutable envelope a worker hands to the thread
// pool: invoke Client.Do(Method, Args...) and report back under Authority.
type ProcessRequest struct {
	Authority Authority
	Client    Client
	Method    string
	Args      []any
}

// NewProcessRequest creates a request envelope. Args are captured as-is;
// callers must not mutate them after submission.
func NewProcessRequest(authority Authority, client Client, method string, args ...any) *ProcessRequest {
	return &ProcessRequest{
		Authority: authority,
		Client:    client,
		Method:    method,
		Args:      args,
	}
}

// URL returns the request's target URL when the first argument is a
// string, which is the convention for every built-in client method.
// Used to key the per-domain adaptive delay.
func (r *ProcessRequest) URL() string {
	if len(r.Args) == 0 {
		return ""
	}
	if s, ok := r.Args[0].(string); ok {
		return s
	}
	return ""
}

func (r *ProcessRequest) String() string {
	return fmt.Sprintf("%s %s %s", r.Authority, r.Method, r.URL())
}

// ThreadResponse is the immutable envelope a pool thread emits after
// performing a request. Exactly one of Result/Err is set.
type ThreadResponse struct {
	Authority Authority
	Result    any
	Err       error
	Elapsed   time.Duration
}

// Success reports whether the request completed without error.
func (r *ThreadResponse) Success() bool { return r.Err == nil }

func (r *ThreadResponse) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s error after %s: %v", r.Authority, r.Elapsed.Round(time.Millisecond), r.Err)
	}
	return fmt.Sprintf("%s ok after %s", r.Authority, r.Elapsed.Round(time.Millisecond))
}
