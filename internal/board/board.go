// Package board implements the shared cooperative task board. Tasks carry
// claim/complete semantics with strict status transitions; every mutation
// persists synchronously before it is reported as successful, so restart
// reconstructs the same board.
package board

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/superheromeZzh/meowdev/internal/bus"
	"github.com/superheromeZzh/meowdev/internal/persistence"
)

// Task statuses.
const (
	StatusPending = "pending"
	StatusDoing   = "doing"
	StatusDone    = "done"
)

var statusIcons = map[string]string{
	StatusPending: "⏳",
	StatusDoing:   "🔄",
	StatusDone:    "✅",
}

// Task is one cooperative work item.
type Task struct {
	ID        string
	Title     string
	Status    string
	Owner     string
	CreatedAt time.Time
}

// Store is the persistence surface the board needs. *persistence.Store
// satisfies it; tests use an in-memory fake.
type Store interface {
	InsertTask(ctx context.Context, t persistence.TaskRow) error
	UpdateTask(ctx context.Context, id, status, owner string) error
	DeleteTask(ctx context.Context, id string) error
	LoadTasks(ctx context.Context) ([]persistence.TaskRow, error)
}

// TaskBoard holds tasks in insertion order. Safe for concurrent use; the
// bus may be nil.
type TaskBoard struct {
	mu    sync.Mutex
	tasks []*Task
	byID  map[string]*Task
	store Store
	bus   *bus.Bus
}

// New creates a board, restoring persisted tasks when a store is provided.
func New(ctx context.Context, store Store, eventBus *bus.Bus) (*TaskBoard, error) {
	b := &TaskBoard{
		byID:  make(map[string]*Task),
		store: store,
		bus:   eventBus,
	}
	if store != nil {
		rows, err := store.LoadTasks(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore task board: %w", err)
		}
		for _, r := range rows {
			t := &Task{ID: r.ID, Title: r.Title, Status: r.Status, Owner: r.Owner, CreatedAt: r.CreatedAt}
			b.tasks = append(b.tasks, t)
			b.byID[t.ID] = t
		}
	}
	return b, nil
}

func (b *TaskBoard) publish(topic string, t *Task) {
	if b.bus != nil {
		b.bus.Publish(topic, bus.TaskEvent{
			TaskID: t.ID,
			Title:  t.Title,
			Status: t.Status,
			Owner:  t.Owner,
		})
	}
}

// nextID derives the next task id from the max existing numeric suffix, not
// the task count, so removed ids are never reused.
func (b *TaskBoard) nextID() string {
	maxNum := 0
	for _, t := range b.tasks {
		parts := strings.SplitN(t.ID, "-", 2)
		if len(parts) != 2 {
			continue
		}
		if n, err := strconv.Atoi(parts[1]); err == nil && n > maxNum {
			maxNum = n
		}
	}
	return fmt.Sprintf("T-%03d", maxNum+1)
}

// Add creates a pending, unowned task. Always succeeds; persistence errors
// surface as the returned error with the in-memory add rolled back.
func (b *TaskBoard) Add(ctx context.Context, title string) (Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := &Task{
		ID:        b.nextID(),
		Title:     title,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	if b.store != nil {
		row := persistence.TaskRow{ID: t.ID, Title: t.Title, Status: t.Status, Owner: t.Owner, CreatedAt: t.CreatedAt}
		if err := b.store.InsertTask(ctx, row); err != nil {
			return Task{}, fmt.Errorf("persist task %s: %w", t.ID, err)
		}
	}
	b.tasks = append(b.tasks, t)
	b.byID[t.ID] = t
	b.publish(bus.TopicTaskCreated, t)
	return *t, nil
}

// Claim moves a pending task to doing under the given owner.
// Returns false (board unchanged) for unknown ids and illegal transitions.
func (b *TaskBoard) Claim(ctx context.Context, taskID, owner string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[taskID]
	if !ok || t.Status != StatusPending {
		return false
	}
	return b.mutate(ctx, t, StatusDoing, owner, bus.TopicTaskClaimed)
}

// Complete moves a doing task to done.
func (b *TaskBoard) Complete(ctx context.Context, taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[taskID]
	if !ok || t.Status != StatusDoing {
		return false
	}
	return b.mutate(ctx, t, StatusDone, t.Owner, bus.TopicTaskCompleted)
}

// Reassign forces a pending or doing task to doing under a new owner.
// Done tasks cannot be reassigned.
func (b *TaskBoard) Reassign(ctx context.Context, taskID, newOwner string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[taskID]
	if !ok || (t.Status != StatusPending && t.Status != StatusDoing) {
		return false
	}
	return b.mutate(ctx, t, StatusDoing, newOwner, bus.TopicTaskReassigned)
}

// mutate applies a transition and persists it. Caller holds the lock.
func (b *TaskBoard) mutate(ctx context.Context, t *Task, status, owner, topic string) bool {
	prevStatus, prevOwner := t.Status, t.Owner
	t.Status, t.Owner = status, owner
	if b.store != nil {
		if err := b.store.UpdateTask(ctx, t.ID, t.Status, t.Owner); err != nil {
			t.Status, t.Owner = prevStatus, prevOwner
			return false
		}
	}
	b.publish(topic, t)
	return true
}

// Remove deletes a task regardless of status. Returns true iff it existed.
func (b *TaskBoard) Remove(ctx context.Context, taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[taskID]
	if !ok {
		return false
	}
	if b.store != nil {
		if err := b.store.DeleteTask(ctx, taskID); err != nil {
			return false
		}
	}
	delete(b.byID, taskID)
	for i, existing := range b.tasks {
		if existing.ID == taskID {
			b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
			break
		}
	}
	b.publish(bus.TopicTaskRemoved, t)
	return true
}

// ClearDone removes every completed task.
func (b *TaskBoard) ClearDone(ctx context.Context) int {
	b.mu.Lock()
	var doneIDs []string
	for _, t := range b.tasks {
		if t.Status == StatusDone {
			doneIDs = append(doneIDs, t.ID)
		}
	}
	b.mu.Unlock()

	removed := 0
	for _, id := range doneIDs {
		if b.Remove(ctx, id) {
			removed++
		}
	}
	return removed
}

// HasPendingWork reports whether any task is pending or doing.
func (b *TaskBoard) HasPendingWork() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tasks {
		if t.Status == StatusPending || t.Status == StatusDoing {
			return true
		}
	}
	return false
}

// Tasks returns a snapshot in insertion order.
func (b *TaskBoard) Tasks() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, *t)
	}
	return out
}

// Get returns a task by id.
func (b *TaskBoard) Get(taskID string) (Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.byID[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// FormatStatus renders the board one line per task in insertion order.
// Empty board renders as an empty string.
func (b *TaskBoard) FormatStatus() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.tasks) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, t := range b.tasks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		icon, ok := statusIcons[t.Status]
		if !ok {
			icon = "❓"
		}
		sb.WriteString(icon)
		sb.WriteByte(' ')
		sb.WriteString(t.ID)
		sb.WriteString(": ")
		sb.WriteString(t.Title)
		if t.Owner != "" {
			sb.WriteString(" → ")
			sb.WriteString(t.Owner)
		}
	}
	return sb.String()
}
