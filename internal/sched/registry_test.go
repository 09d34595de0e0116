package sched

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

func newIdleWorker(id uint64, authority types.Authority, resumeAt time.Time) *Operation {
	// The task goroutine parks awaiting its first resume; these tests
	// never resume it, only close it.
	w := newOperation(id, authority, resumeAt, func(op *Operation) error { return nil })
	w.resumeAt = resumeAt
	w.seq = int64(id)
	return w
}

func closeAll(ws ...*Operation) {
	for _, w := range ws {
		w.close()
	}
}

func TestRegistryIndicesStayAligned(t *testing.T) {
	r := NewRegistry(slog.Default())
	now := time.Now()

	var ws []*Operation
	for i := uint64(1); i <= 5; i++ {
		w := newIdleWorker(i, types.Authority(rune('a'+i)), now)
		ws = append(ws, w)
		if err := r.Register(w); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		if len(r.byAuthority) != len(r.byTask) {
			t.Fatalf("indices diverged after register: %d vs %d", len(r.byAuthority), len(r.byTask))
		}
	}
	defer closeAll(ws...)

	r.Deregister(ws[0].authority)
	r.DeregisterTask(ws[1].id)
	if len(r.byAuthority) != len(r.byTask) {
		t.Fatalf("indices diverged after deregister: %d vs %d", len(r.byAuthority), len(r.byTask))
	}
	if r.Size() != 3 {
		t.Errorf("size = %d, want 3", r.Size())
	}

	// Idempotent removals.
	r.Deregister(ws[0].authority)
	r.DeregisterTask(ws[1].id)
	if r.Size() != 3 {
		t.Errorf("size after repeated deregister = %d, want 3", r.Size())
	}
}

func TestRegistryRejectsDuplicateAuthority(t *testing.T) {
	r := NewRegistry(slog.Default())
	now := time.Now()

	w1 := newIdleWorker(1, "dup", now)
	w2 := newIdleWorker(2, "dup", now)
	defer closeAll(w1, w2)

	if err := r.Register(w1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(w2); !errors.Is(err, types.ErrAuthorityRegistered) {
		t.Errorf("second register = %v, want ErrAuthorityRegistered", err)
	}
	if r.Size() != 1 {
		t.Errorf("size = %d, want 1", r.Size())
	}
}

func TestRegistryFind(t *testing.T) {
	r := NewRegistry(slog.Default())
	w := newIdleWorker(7, "x", time.Now())
	defer w.close()
	r.Register(w)

	if got := r.Find("x"); got != w {
		t.Error("Find by authority failed")
	}
	if got := r.FindTask(7); got != w {
		t.Error("Find by task id failed")
	}
	if got := r.Find("nope"); got != nil {
		t.Errorf("Find(nope) = %v, want nil", got)
	}
}

func TestResumableOrdering(t *testing.T) {
	r := NewRegistry(slog.Default())
	now := time.Now()

	late := newIdleWorker(1, "late", now.Add(time.Second))
	early := newIdleWorker(2, "early", now.Add(-time.Second))
	waiting := newIdleWorker(3, "waiting", now.Add(-2*time.Second))
	waiting.waitingForResponse = true
	defer closeAll(late, early, waiting)

	for _, w := range []*Operation{late, early, waiting} {
		r.Register(w)
	}

	got := r.Resumable()
	if len(got) != 2 {
		t.Fatalf("resumable = %d workers, want 2 (waiting excluded)", len(got))
	}
	if got[0] != early || got[1] != late {
		t.Errorf("order = [%s %s], want [early late]", got[0].authority, got[1].authority)
	}

	due := r.CanResume(now)
	if len(due) != 1 || due[0] != early {
		t.Errorf("CanResume should contain only the early worker, got %d", len(due))
	}
}

func TestResumableTieBreakBySeq(t *testing.T) {
	r := NewRegistry(slog.Default())
	at := time.Now()

	first := newIdleWorker(1, "first", at)
	second := newIdleWorker(2, "second", at)
	defer closeAll(first, second)
	r.Register(second)
	r.Register(first)

	got := r.Resumable()
	if got[0] != first || got[1] != second {
		t.Errorf("equal resume_at must fall back to seq order, got [%s %s]",
			got[0].authority, got[1].authority)
	}
}

func TestRegistryShutdown(t *testing.T) {
	r := NewRegistry(slog.Default())
	now := time.Now()
	for i := uint64(1); i <= 3; i++ {
		r.Register(newIdleWorker(i, types.Authority(rune('a'+i)), now))
	}

	r.Shutdown()
	if !r.Empty() {
		t.Errorf("size after shutdown = %d, want 0", r.Size())
	}
	// Idempotent.
	r.Shutdown()
}
