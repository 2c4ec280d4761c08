package board

import (
	"context"
	"strings"
	"testing"

	"github.com/superheromeZzh/meowdev/internal/persistence"
)

// fakeStore is an in-memory Store double that records persisted rows.
type fakeStore struct {
	rows    map[string]persistence.TaskRow
	order   []string
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]persistence.TaskRow)}
}

func (f *fakeStore) InsertTask(_ context.Context, t persistence.TaskRow) error {
	if f.failAll {
		return context.DeadlineExceeded
	}
	if _, ok := f.rows[t.ID]; !ok {
		f.order = append(f.order, t.ID)
	}
	f.rows[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, id, status, owner string) error {
	if f.failAll {
		return context.DeadlineExceeded
	}
	r := f.rows[id]
	r.Status, r.Owner = status, owner
	f.rows[id] = r
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, id string) error {
	if f.failAll {
		return context.DeadlineExceeded
	}
	delete(f.rows, id)
	for i, existing := range f.order {
		if existing == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) LoadTasks(_ context.Context) ([]persistence.TaskRow, error) {
	var out []persistence.TaskRow
	for _, id := range f.order {
		out = append(out, f.rows[id])
	}
	return out, nil
}

func newTestBoard(t *testing.T) (*TaskBoard, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	b, err := New(context.Background(), fs, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, fs
}

func TestBoard_SequentialIDs(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	t1, err := b.Add(ctx, "X")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	t2, _ := b.Add(ctx, "Y")
	if t1.ID != "T-001" || t2.ID != "T-002" {
		t.Fatalf("ids = %s, %s; want T-001, T-002", t1.ID, t2.ID)
	}

	// Ids derive from max suffix, not count.
	if !b.Remove(ctx, "T-001") {
		t.Fatal("Remove T-001 failed")
	}
	t3, _ := b.Add(ctx, "Z")
	if t3.ID != "T-003" {
		t.Fatalf("id after remove = %s, want T-003", t3.ID)
	}
}

func TestBoard_ClaimOnlyFromPending(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()
	task, _ := b.Add(ctx, "fix login")

	if !b.Claim(ctx, task.ID, "stack") {
		t.Fatal("first claim should succeed")
	}
	// Second claim with a different owner fails: no longer pending.
	if b.Claim(ctx, task.ID, "arch") {
		t.Fatal("second claim should fail")
	}
	got, _ := b.Get(task.ID)
	if got.Owner != "stack" || got.Status != StatusDoing {
		t.Fatalf("task = %+v", got)
	}

	if b.Claim(ctx, "T-999", "arch") {
		t.Fatal("claim of unknown id should fail")
	}
}

func TestBoard_CompleteOnlyFromDoing(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()
	task, _ := b.Add(ctx, "write docs")

	// Never claimed: complete fails and status stays pending.
	if b.Complete(ctx, task.ID) {
		t.Fatal("complete of pending task should fail")
	}
	got, _ := b.Get(task.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}

	b.Claim(ctx, task.ID, "pixel")
	if !b.Complete(ctx, task.ID) {
		t.Fatal("complete of doing task should succeed")
	}
	if b.Complete(ctx, task.ID) {
		t.Fatal("double complete should fail")
	}
}

func TestBoard_Reassign(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	pending, _ := b.Add(ctx, "a")
	doing, _ := b.Add(ctx, "b")
	done, _ := b.Add(ctx, "c")
	b.Claim(ctx, doing.ID, "stack")
	b.Claim(ctx, done.ID, "stack")
	b.Complete(ctx, done.ID)

	if !b.Reassign(ctx, pending.ID, "arch") {
		t.Fatal("reassign of pending should succeed")
	}
	got, _ := b.Get(pending.ID)
	if got.Status != StatusDoing || got.Owner != "arch" {
		t.Fatalf("task = %+v", got)
	}

	if !b.Reassign(ctx, doing.ID, "pixel") {
		t.Fatal("reassign of doing should succeed")
	}
	if b.Reassign(ctx, done.ID, "pixel") {
		t.Fatal("reassign of done should fail")
	}
}

func TestBoard_HasPendingWork(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	if b.HasPendingWork() {
		t.Fatal("empty board has no pending work")
	}
	task, _ := b.Add(ctx, "x")
	if !b.HasPendingWork() {
		t.Fatal("pending task counts as pending work")
	}
	b.Claim(ctx, task.ID, "stack")
	if !b.HasPendingWork() {
		t.Fatal("doing task counts as pending work")
	}
	b.Complete(ctx, task.ID)
	if b.HasPendingWork() {
		t.Fatal("done task is not pending work")
	}
}

func TestBoard_FormatStatusRoundTrip(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	b.Add(ctx, "first task")
	second, _ := b.Add(ctx, "second task")
	b.Claim(ctx, second.ID, "stack")

	rendered := b.FormatStatus()
	lines := strings.Split(rendered, "\n")
	tasks := b.Tasks()
	if len(lines) != len(tasks) {
		t.Fatalf("lines = %d, tasks = %d", len(lines), len(tasks))
	}
	for i, task := range tasks {
		line := lines[i]
		if !strings.Contains(line, task.ID) || !strings.Contains(line, task.Title) {
			t.Errorf("line %q missing id/title of %+v", line, task)
		}
		if !strings.HasPrefix(line, statusIcons[task.Status]) {
			t.Errorf("line %q missing icon for status %s", line, task.Status)
		}
		if task.Owner != "" && !strings.Contains(line, "→ "+task.Owner) {
			t.Errorf("line %q missing owner %s", line, task.Owner)
		}
	}
}

func TestBoard_FormatStatusEmpty(t *testing.T) {
	b, _ := newTestBoard(t)
	if got := b.FormatStatus(); got != "" {
		t.Fatalf("empty board renders %q, want empty", got)
	}
}

func TestBoard_RestoreFromStore(t *testing.T) {
	fs := newFakeStore()
	ctx := context.Background()

	b1, _ := New(ctx, fs, nil)
	b1.Add(ctx, "persisted")
	task2, _ := b1.Add(ctx, "claimed one")
	b1.Claim(ctx, task2.ID, "arch")

	// A new board over the same store sees identical state.
	b2, err := New(ctx, fs, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tasks := b2.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("restored %d tasks, want 2", len(tasks))
	}
	if tasks[1].Status != StatusDoing || tasks[1].Owner != "arch" {
		t.Fatalf("restored task = %+v", tasks[1])
	}
	next, _ := b2.Add(ctx, "new after restore")
	if next.ID != "T-003" {
		t.Fatalf("next id after restore = %s, want T-003", next.ID)
	}
}

func TestBoard_ClearDone(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	keep, _ := b.Add(ctx, "keep")
	gone, _ := b.Add(ctx, "gone")
	b.Claim(ctx, gone.ID, "stack")
	b.Complete(ctx, gone.ID)

	if n := b.ClearDone(ctx); n != 1 {
		t.Fatalf("ClearDone = %d, want 1", n)
	}
	if _, ok := b.Get(gone.ID); ok {
		t.Fatal("done task still present")
	}
	if _, ok := b.Get(keep.ID); !ok {
		t.Fatal("pending task removed")
	}
}

func TestBoard_PersistFailureLeavesBoardUnchanged(t *testing.T) {
	b, fs := newTestBoard(t)
	ctx := context.Background()
	task, _ := b.Add(ctx, "x")

	fs.failAll = true
	if b.Claim(ctx, task.ID, "stack") {
		t.Fatal("claim should fail when persistence fails")
	}
	got, _ := b.Get(task.ID)
	if got.Status != StatusPending || got.Owner != "" {
		t.Fatalf("board mutated despite persist failure: %+v", got)
	}
}
