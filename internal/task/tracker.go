// Package task runs long operations on background goroutines and tracks
// their lifecycle for polling clients. State transitions are monotonic:
// pending -> running -> completed | failed | cancelled, with direct
// pending -> cancelled permitted. Terminal states never change again.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	ErrNotFound = errors.New("task not found")
	ErrTerminal = errors.New("task already finished")
)

// Snapshot is the externally visible state of a task at one point in time.
type Snapshot struct {
	ID        string    `json:"task_id"`
	Owner     string    `json:"owner,omitempty"`
	Status    Status    `json:"status"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Work is the unit a task executes. It must honor ctx cancellation; a Work
// that ignores ctx will keep running after Cancel, though the task is
// reported cancelled regardless of what it later returns.
type Work func(ctx context.Context) (any, error)

type record struct {
	snap   Snapshot
	cancel context.CancelFunc
}

// Tracker registers, runs, and reports background tasks. The zero value is
// not usable; create one with NewTracker.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*record
	base  context.Context
	now   func() time.Time
}

// NewTracker creates a Tracker whose task contexts descend from base, so
// shutting down base cancels every task still in flight.
func NewTracker(base context.Context) *Tracker {
	if base == nil {
		base = context.Background()
	}
	return &Tracker{
		tasks: make(map[string]*record),
		base:  base,
		now:   time.Now,
	}
}

// Submit registers work and starts it on a new goroutine, returning the
// task id immediately.
func (t *Tracker) Submit(owner string, work Work) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(t.base)

	t.mu.Lock()
	now := t.now()
	t.tasks[id] = &record{
		snap: Snapshot{
			ID:        id,
			Owner:     owner,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}
	t.mu.Unlock()

	go t.run(ctx, id, work)
	return id
}

func (t *Tracker) run(ctx context.Context, id string, work Work) {
	defer func() {
		t.mu.Lock()
		if rec, ok := t.tasks[id]; ok {
			rec.cancel()
		}
		t.mu.Unlock()
	}()

	// Cancelled while still pending: never start the work.
	if !t.transition(id, StatusRunning, nil, "") {
		return
	}

	result, err := work(ctx)
	switch {
	case ctx.Err() != nil:
		t.transition(id, StatusCancelled, nil, "")
	case err != nil:
		t.transition(id, StatusFailed, nil, err.Error())
	default:
		t.transition(id, StatusCompleted, result, "")
	}
}

// transition applies next to the task if its current state admits it. All
// state changes go through here, holding the lock, which is what makes the
// lifecycle monotonic under concurrent Cancel and completion.
func (t *Tracker) transition(id string, next Status, result any, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tasks[id]
	if !ok {
		return false
	}
	cur := rec.snap.Status
	if cur.Terminal() {
		return false
	}
	if next == StatusRunning && cur != StatusPending {
		return false
	}

	rec.snap.Status = next
	rec.snap.Result = result
	rec.snap.Error = errMsg
	rec.snap.UpdatedAt = t.now()
	return true
}

// Poll returns the current snapshot of the task.
func (t *Tracker) Poll(id string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tasks[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return rec.snap, nil
}

// Cancel requests cooperative cancellation. A pending task moves straight to
// cancelled; a running task has its context cancelled and is marked
// cancelled once it observes that. Cancelling a terminal task returns
// ErrTerminal; cancelling twice is idempotent only in effect, the second
// call reports ErrTerminal.
func (t *Tracker) Cancel(id string) error {
	t.mu.Lock()
	rec, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if rec.snap.Status.Terminal() {
		t.mu.Unlock()
		return ErrTerminal
	}
	pending := rec.snap.Status == StatusPending
	cancel := rec.cancel
	t.mu.Unlock()

	cancel()
	if pending {
		t.transition(id, StatusCancelled, nil, "")
	}
	return nil
}
