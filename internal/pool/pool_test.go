package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// stubClient is a scriptable types.Client for pool tests.
type stubClient struct {
	sleep  time.Duration
	result any
	err    error
	panics bool
	calls  atomic.Int64
}

func (c *stubClient) Do(ctx context.Context, method string, args ...any) (any, error) {
	c.calls.Add(1)
	if c.panics {
		panic("stub client exploded")
	}
	if c.sleep > 0 {
		select {
		case <-time.After(c.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.result, c.err
}

func newTestPool(size int) *Pool {
	return New(size, time.Minute, slog.Default())
}

func pollWait(t *testing.T, p *Pool, within time.Duration) *types.ThreadResponse {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if resp := p.Poll(); resp != nil {
			return resp
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no response within deadline")
	return nil
}

// --- Submit / Poll ---

func TestSubmitPollRoundtrip(t *testing.T) {
	p := newTestPool(2)
	defer p.Shutdown()

	client := &stubClient{result: "ok", sleep: 10 * time.Millisecond}
	req := types.NewProcessRequest("a", client, "get", "http://x/")

	if err := p.Submit(req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp := pollWait(t, p, time.Second)

	if resp.Authority != "a" {
		t.Errorf("authority = %q, want a", resp.Authority)
	}
	if !resp.Success() || resp.Result != "ok" {
		t.Errorf("result = %v err = %v, want ok", resp.Result, resp.Err)
	}
	if resp.Elapsed < 10*time.Millisecond {
		t.Errorf("elapsed %v shorter than the client call", resp.Elapsed)
	}
}

func TestPollEmptyIsNonBlocking(t *testing.T) {
	p := newTestPool(1)
	defer p.Shutdown()
	if resp := p.Poll(); resp != nil {
		t.Errorf("expected nil from empty pool, got %v", resp)
	}
}

func TestParallelExecution(t *testing.T) {
	// Two 300ms calls on two workers finish well under the 600ms a
	// sequential run would take.
	p := newTestPool(2)
	defer p.Shutdown()

	start := time.Now()
	for _, a := range []types.Authority{"a", "b"} {
		client := &stubClient{result: "ok", sleep: 300 * time.Millisecond}
		if err := p.Submit(types.NewProcessRequest(a, client, "get", "http://x/")); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		pollWait(t, p, 2*time.Second)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("two parallel 300ms calls took %v, want <= 500ms", elapsed)
	}
}

// --- Error capture ---

func TestClientErrorCaptured(t *testing.T) {
	p := newTestPool(1)
	defer p.Shutdown()

	boom := errors.New("connection refused")
	client := &stubClient{err: boom}
	p.Submit(types.NewProcessRequest("a", client, "get", "http://x/"))

	resp := pollWait(t, p, time.Second)
	if resp.Success() {
		t.Fatal("expected failed response")
	}
	if !errors.Is(resp.Err, boom) {
		t.Errorf("original error not preserved: %v", resp.Err)
	}
	var reqErr *types.RequestError
	if !errors.As(resp.Err, &reqErr) || reqErr.Method != "get" {
		t.Errorf("expected RequestError wrapper, got %T", resp.Err)
	}
}

func TestClientPanicDoesNotKillWorker(t *testing.T) {
	p := newTestPool(1)
	defer p.Shutdown()

	p.Submit(types.NewProcessRequest("a", &stubClient{panics: true}, "get", "http://x/"))
	resp := pollWait(t, p, time.Second)
	if resp.Success() {
		t.Fatal("expected failed response from panicking client")
	}

	// The single worker must still be alive to serve this.
	p.Submit(types.NewProcessRequest("b", &stubClient{result: "ok"}, "get", "http://x/"))
	resp = pollWait(t, p, time.Second)
	if !resp.Success() {
		t.Errorf("worker died after client panic: %v", resp.Err)
	}
}

// --- Shutdown ---

func TestShutdownEmptyPool(t *testing.T) {
	p := newTestPool(4)
	done := make(chan []*types.ThreadResponse, 1)
	go func() { done <- p.Shutdown() }()

	select {
	case remaining := <-done:
		if len(remaining) != 0 {
			t.Errorf("expected no remaining responses, got %d", len(remaining))
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown of empty pool blocked")
	}
}

func TestShutdownReturnsUnpolled(t *testing.T) {
	p := newTestPool(2)
	for i := 0; i < 3; i++ {
		a := types.Authority(fmt.Sprintf("auth-%d", i))
		p.Submit(types.NewProcessRequest(a, &stubClient{result: i}, "get", "http://x/"))
	}
	remaining := p.Shutdown()
	if len(remaining) != 3 {
		t.Errorf("expected 3 unpolled responses, got %d", len(remaining))
	}
	if err := p.Submit(types.NewProcessRequest("late", &stubClient{}, "get", "http://x/")); !errors.Is(err, types.ErrPoolShutdown) {
		t.Errorf("submit after shutdown = %v, want ErrPoolShutdown", err)
	}
}

func TestZeroSizePool(t *testing.T) {
	p := newTestPool(0)
	if p.Size() != 0 {
		t.Fatalf("size = %d, want 0", p.Size())
	}
	// No workers: submitted requests sit in the queue untouched.
	client := &stubClient{result: "ok"}
	p.Submit(types.NewProcessRequest("a", client, "get", "http://x/"))
	time.Sleep(50 * time.Millisecond)
	if client.calls.Load() != 0 {
		t.Error("zero-size pool must not execute requests")
	}
	if p.Pending() != 1 {
		t.Errorf("pending = %d, want 1", p.Pending())
	}
	p.Shutdown()
}

// --- Execute ---

func TestExecuteTimesCall(t *testing.T) {
	client := &stubClient{result: "ok", sleep: 50 * time.Millisecond}
	resp := Execute(context.Background(), time.Minute, types.NewProcessRequest("a", client, "get", "http://x/"))
	if resp.Elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 50ms", resp.Elapsed)
	}
}

func TestExecuteHonoursTimeout(t *testing.T) {
	client := &stubClient{result: "ok", sleep: 10 * time.Second}
	start := time.Now()
	resp := Execute(context.Background(), 50*time.Millisecond, types.NewProcessRequest("a", client, "get", "http://x/"))
	if time.Since(start) > time.Second {
		t.Fatal("Execute did not honour the request timeout")
	}
	if resp.Success() {
		t.Error("expected timeout error")
	}
}

// --- queue ---

func TestQueueFIFO(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 5; i++ {
		q.push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.tryPop()
		if !ok || v != i {
			t.Fatalf("pop %d = %v/%v, want %d", i, v, ok, i)
		}
	}
	if _, ok := q.tryPop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueueCloseRejectsPush(t *testing.T) {
	q := newQueue[int]()
	q.push(1)
	q.close()
	if q.push(2) {
		t.Error("push after close should fail")
	}
	if v, ok := q.tryPop(); !ok || v != 1 {
		t.Error("queued items must stay drainable after close")
	}
}

func BenchmarkSubmitPoll(b *testing.B) {
	p := New(4, time.Minute, slog.Default())
	defer p.Shutdown()
	client := &stubClient{result: "ok"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Submit(types.NewProcessRequest("a", client, "get", "http://x/"))
	}
	for polled := 0; polled < b.N; {
		if p.Poll() != nil {
			polled++
		}
	}
}
