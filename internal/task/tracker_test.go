package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitTerminal(t *testing.T, tr *Tracker, id string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := tr.Poll(id)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return Snapshot{}
}

func TestTaskCompletes(t *testing.T) {
	tr := NewTracker(context.Background())
	id := tr.Submit("owner-1", func(ctx context.Context) (any, error) {
		return map[string]string{"answer": "42"}, nil
	})

	snap := waitTerminal(t, tr, id)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", snap.Status, StatusCompleted)
	}
	if snap.Result == nil {
		t.Error("completed task has no result")
	}
	if snap.Error != "" {
		t.Errorf("completed task carries error %q", snap.Error)
	}
	if snap.Owner != "owner-1" {
		t.Errorf("owner = %q", snap.Owner)
	}
}

func TestTaskFails(t *testing.T) {
	tr := NewTracker(context.Background())
	id := tr.Submit("", func(ctx context.Context) (any, error) {
		return nil, errors.New("synthesis exploded")
	})

	snap := waitTerminal(t, tr, id)
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", snap.Status, StatusFailed)
	}
	if snap.Error != "synthesis exploded" {
		t.Errorf("error = %q", snap.Error)
	}
	if snap.Result != nil {
		t.Errorf("failed task carries result %v", snap.Result)
	}
}

func TestPollUnknownTask(t *testing.T) {
	tr := NewTracker(context.Background())
	if _, err := tr.Poll("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := tr.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel err = %v, want ErrNotFound", err)
	}
}

func TestCancelPendingNeverRuns(t *testing.T) {
	tr := NewTracker(context.Background())
	var ran atomic.Bool

	// Register a pending task directly so Cancel observably lands before
	// the run goroutine would have started the work.
	id := "pending-task"
	ctx, cancel := context.WithCancel(context.Background())
	tr.mu.Lock()
	tr.tasks[id] = &record{
		snap:   Snapshot{ID: id, Status: StatusPending, CreatedAt: tr.now(), UpdatedAt: tr.now()},
		cancel: cancel,
	}
	tr.mu.Unlock()

	if err := tr.Cancel(id); err != nil {
		t.Fatal(err)
	}
	tr.run(ctx, id, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	snap, err := tr.Poll(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
	if ran.Load() {
		t.Error("work ran despite cancellation before start")
	}
}

func TestCancelRunningIsCooperative(t *testing.T) {
	tr := NewTracker(context.Background())
	started := make(chan struct{})

	id := tr.Submit("", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	if err := tr.Cancel(id); err != nil {
		t.Fatal(err)
	}
	snap := waitTerminal(t, tr, id)
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
}

func TestCancelRunningWorkIgnoresCtx(t *testing.T) {
	tr := NewTracker(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	id := tr.Submit("", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "late result", nil
	})
	<-started

	if err := tr.Cancel(id); err != nil {
		t.Fatal(err)
	}
	close(release)

	// Even though the work returned a value, the observed ctx cancellation
	// wins and the task reports cancelled without a result.
	snap := waitTerminal(t, tr, id)
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
	if snap.Result != nil {
		t.Errorf("cancelled task carries result %v", snap.Result)
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	tr := NewTracker(context.Background())
	id := tr.Submit("", func(ctx context.Context) (any, error) { return "done", nil })
	waitTerminal(t, tr, id)

	if err := tr.Cancel(id); !errors.Is(err, ErrTerminal) {
		t.Errorf("cancel of finished task = %v, want ErrTerminal", err)
	}
	snap, err := tr.Poll(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusCompleted {
		t.Errorf("status = %s after cancel attempt, want completed", snap.Status)
	}
	if tr.transition(id, StatusRunning, nil, "") {
		t.Error("terminal task accepted a transition")
	}
}

func TestBaseContextCancelsTasks(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	tr := NewTracker(base)
	started := make(chan struct{})

	id := tr.Submit("", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	cancel()
	snap := waitTerminal(t, tr, id)
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled after base shutdown", snap.Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
