package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
)

// Status is the lifecycle state of a transformation task.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// TaskRecord is a point-in-time copy of a task.
type TaskRecord struct {
	ID        int
	ImageID   int
	Kind      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskRegistry is the ledger of transformation tasks. Tasks are never
// removed.
type TaskRegistry struct {
	mu      sync.Mutex
	idle    *sync.Cond
	nextID  int
	tasks   map[int]*TaskRecord
	byImage map[int][]int
	pending int
	now     func() time.Time
}

// NewTaskRegistry creates an empty ledger.
func NewTaskRegistry() *TaskRegistry {
	t := &TaskRegistry{
		tasks:   make(map[int]*TaskRecord),
		byImage: make(map[int][]int),
		now:     time.Now,
	}
	t.idle = sync.NewCond(&t.mu)
	return t
}

// AddTask records a new waiting task for imageID.
func (t *TaskRegistry) AddTask(imageID int, kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	now := t.now()
	t.tasks[t.nextID] = &TaskRecord{
		ID:        t.nextID,
		ImageID:   imageID,
		Kind:      kind,
		Status:    StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.byImage[imageID] = append(t.byImage[imageID], t.nextID)
	t.pending++
	return t.nextID
}

// UpdateStatus moves a task forward. Moving backwards, sideways between the
// terminal states, or out of a terminal state is rejected.
func (t *TaskRegistry) UpdateStatus(id int, status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return apperrors.NotFound("tasks.update", "task", id)
	}
	if status.rank() < 0 {
		return apperrors.Newf(apperrors.CategoryInvalidArgument, "tasks.update", "unknown status %q", status)
	}
	if task.Status.Terminal() || status.rank() <= task.Status.rank() {
		return apperrors.New(apperrors.CategoryInvalidTransition, "tasks.update",
			fmt.Errorf("task %d: %s -> %s", id, task.Status, status))
	}

	task.Status = status
	task.UpdatedAt = t.now()
	if status.Terminal() {
		t.pending--
		if t.pending == 0 {
			t.idle.Broadcast()
		}
	}
	return nil
}

// Get returns a snapshot of the task.
func (t *TaskRegistry) Get(id int) (TaskRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return TaskRecord{}, apperrors.NotFound("tasks.get", "task", id)
	}
	return *task, nil
}

// TasksFor returns snapshots of every task created for imageID, in id order.
func (t *TaskRegistry) TasksFor(imageID int) []TaskRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.byImage[imageID]
	out := make([]TaskRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *t.tasks[id])
	}
	return out
}

// All returns every task in id order.
func (t *TaskRegistry) All() []TaskRecord {
	t.mu.Lock()
	out := make([]TaskRecord, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, *task)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllTerminal reports whether every listed task is completed or failed.
// Unknown ids have nothing left to wait for and count as terminal.
func (t *TaskRegistry) AllTerminal(ids []int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if task, ok := t.tasks[id]; ok && !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// Pending returns the number of non-terminal tasks.
func (t *TaskRegistry) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// WaitIdle blocks until no task is waiting or running, or ctx ends.
func (t *TaskRegistry) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.idle.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.pending > 0 {
		if err := ctx.Err(); err != nil {
			return apperrors.Retryable(apperrors.CategoryStuckWorker, "tasks.wait_idle",
				fmt.Errorf("%d tasks pending: %w", t.pending, err))
		}
		t.idle.Wait()
	}
	return nil
}
