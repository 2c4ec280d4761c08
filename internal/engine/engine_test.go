package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/superheromeZzh/meowdev/internal/board"
	"github.com/superheromeZzh/meowdev/internal/cat"
	"github.com/superheromeZzh/meowdev/internal/persistence"
)

// scriptedSpeaker replays a fixed reply sequence, then skips forever.
type scriptedSpeaker struct {
	replies []string
	calls   int
}

func (s *scriptedSpeaker) Speak(_ context.Context, _, _ string) string {
	s.calls++
	if s.calls <= len(s.replies) {
		return s.replies[s.calls-1]
	}
	return "[skip]"
}

func (s *scriptedSpeaker) SpeakStream(ctx context.Context, sessionID, boardText string, onChunk func(string)) string {
	out := s.Speak(ctx, sessionID, boardText)
	if onChunk != nil {
		onChunk(out)
	}
	return out
}

// blockingSpeaker parks until released, then skips.
type blockingSpeaker struct {
	release chan struct{}
}

func (b *blockingSpeaker) Speak(_ context.Context, _, _ string) string {
	<-b.release
	return "[skip]"
}

func (b *blockingSpeaker) SpeakStream(ctx context.Context, sessionID, boardText string, _ func(string)) string {
	return b.Speak(ctx, sessionID, boardText)
}

func testRegistry(ids ...string) *cat.Registry {
	names := map[string]string{"arch": "Whiskers", "stack": "Boots", "pixel": "Mochi"}
	var cats []*cat.Cat
	for _, id := range ids {
		cats = append(cats, &cat.Cat{ID: id, Name: names[id]})
	}
	return cat.NewRegistry(cats)
}

func newTestSession(t *testing.T, registry *cat.Registry, agents map[string]Speaker, opts Options) (*Session, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "meowdev.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	b, err := board.New(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("board.New: %v", err)
	}
	return NewSession("s1", store, b, registry, agents, nil, opts), store
}

func TestWorkLoopDrainsClaimThenComplete(t *testing.T) {
	reg := testRegistry("arch")
	sp := &scriptedSpeaker{replies: []string{
		"[claim: T-001] taking it",
		"[complete: T-001] done meow",
	}}
	s, _ := newTestSession(t, reg, map[string]Speaker{"arch": sp}, Options{})

	if _, err := s.Board().Add(context.Background(), "Fix login"); err != nil {
		t.Fatal(err)
	}

	reason := s.RunWorkLoop(context.Background())
	if reason != ReasonDrained {
		t.Fatalf("reason = %q, want %q", reason, ReasonDrained)
	}
	if s.Board().HasPendingWork() {
		t.Fatal("board still has pending work")
	}
	if sp.calls > 2 {
		t.Fatalf("speaker invoked %d times, want at most 2", sp.calls)
	}
}

func TestWorkLoopConvergesAfterTwoIdleRounds(t *testing.T) {
	reg := testRegistry("arch")
	sp := &scriptedSpeaker{replies: []string{
		"[idle] nothing for me",
		"[idle] still nothing",
		"[idle] really nothing",
	}}
	s, _ := newTestSession(t, reg, map[string]Speaker{"arch": sp}, Options{})

	if _, err := s.Board().Add(context.Background(), "Unclaimed chore"); err != nil {
		t.Fatal(err)
	}

	if reason := s.RunWorkLoop(context.Background()); reason != ReasonConverged {
		t.Fatalf("reason = %q, want %q", reason, ReasonConverged)
	}
	if sp.calls != 2 {
		t.Fatalf("speaker invoked %d times, want 2", sp.calls)
	}
}

func TestWorkLoopHonorsStop(t *testing.T) {
	reg := testRegistry("arch")
	s, _ := newTestSession(t, reg, map[string]Speaker{"arch": &scriptedSpeaker{}}, Options{})

	if _, err := s.Board().Add(context.Background(), "Never started"); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	if reason := s.RunWorkLoop(context.Background()); reason != ReasonStopped {
		t.Fatalf("reason = %q, want %q", reason, ReasonStopped)
	}
}

func TestWorkLoopRoundCapWithEndlessProgress(t *testing.T) {
	reg := testRegistry("arch")
	// A cat that spawns a new task every turn never drains the board.
	sp := &scriptedSpeaker{replies: []string{
		"[new task: more work]", "[new task: even more]", "[new task: and more]",
		"[new task: again]", "[new task: forever]",
	}}
	s, _ := newTestSession(t, reg, map[string]Speaker{"arch": sp}, Options{MaxWorkRounds: 3})

	if _, err := s.Board().Add(context.Background(), "Seed task"); err != nil {
		t.Fatal(err)
	}

	if reason := s.RunWorkLoop(context.Background()); reason != ReasonRoundCap {
		t.Fatalf("reason = %q, want %q", reason, ReasonRoundCap)
	}
	if sp.calls != 3 {
		t.Fatalf("speaker invoked %d times, want 3", sp.calls)
	}
}

func TestStartWorkLoopDeclinesSecondTrigger(t *testing.T) {
	reg := testRegistry("arch")
	bs := &blockingSpeaker{release: make(chan struct{})}
	s, _ := newTestSession(t, reg, map[string]Speaker{"arch": bs}, Options{})

	if _, err := s.Board().Add(context.Background(), "Long running"); err != nil {
		t.Fatal(err)
	}

	if !s.StartWorkLoop(context.Background()) {
		t.Fatal("first trigger declined")
	}
	if s.StartWorkLoop(context.Background()) {
		t.Fatal("second trigger started a duplicate loop")
	}

	close(bs.release)
	s.Wait()

	// Loop finished; the next trigger is allowed again.
	if !s.StartWorkLoop(context.Background()) {
		t.Fatal("trigger after completion declined")
	}
	s.Wait()
}

func TestHandleUserMessageMentionAndAskChain(t *testing.T) {
	reg := testRegistry("arch", "stack", "pixel")
	agents := map[string]Speaker{
		"arch":  &scriptedSpeaker{replies: []string{"[ask:stack] Boots, what do you think?"}},
		"stack": &scriptedSpeaker{replies: []string{"looks fine to me"}},
		"pixel": &scriptedSpeaker{},
	}

	var replies []string
	s, store := newTestSession(t, reg, agents, Options{
		OnReply: func(name, text string) { replies = append(replies, name+": "+text) },
	})

	if err := s.HandleUserMessage(context.Background(), "hey Whiskers, thoughts on the schema?"); err != nil {
		t.Fatal(err)
	}

	if len(replies) != 2 {
		t.Fatalf("replies = %v, want arch then stack", replies)
	}
	if replies[0] != "Whiskers: Boots, what do you think?" || replies[1] != "Boots: looks fine to me" {
		t.Fatalf("replies = %v", replies)
	}

	msgs, err := store.RecentMessages(context.Background(), "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].Role != "user" || msgs[1].Role != "Whiskers" || msgs[2].Role != "Boots" {
		roles := make([]string, len(msgs))
		for i, m := range msgs {
			roles[i] = m.Role
		}
		t.Fatalf("history roles = %v", roles)
	}
}

func TestHandleUserMessageSkippedTurnHasNoSideEffects(t *testing.T) {
	reg := testRegistry("arch")
	agents := map[string]Speaker{
		"arch": &scriptedSpeaker{replies: []string{"[skip] but also [remember: should not stick] [new task: nope]"}},
	}

	var replies []string
	s, store := newTestSession(t, reg, agents, Options{
		OnReply: func(name, text string) { replies = append(replies, text) },
	})

	if err := s.HandleUserMessage(context.Background(), "ping Whiskers"); err != nil {
		t.Fatal(err)
	}

	if len(replies) != 0 {
		t.Fatalf("replies = %v, want none", replies)
	}
	if len(s.Board().Tasks()) != 0 {
		t.Fatal("skipped turn created a task")
	}
	mems, err := store.Memories(context.Background(), "arch", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 0 {
		t.Fatalf("skipped turn stored memories: %v", mems)
	}
}

func TestDispatchRejectsIllegalTransitions(t *testing.T) {
	reg := testRegistry("arch")
	agents := map[string]Speaker{
		"arch": &scriptedSpeaker{replies: []string{"[complete: T-001] all done"}},
	}

	var system []string
	s, _ := newTestSession(t, reg, agents, Options{
		OnSystem: func(text string) { system = append(system, text) },
	})

	if _, err := s.Board().Add(context.Background(), "Never claimed"); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleUserMessage(context.Background(), "Whiskers close it out"); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Wait()

	task, ok := s.Board().Get("T-001")
	if !ok || task.Status != "pending" {
		t.Fatalf("task = %+v, want untouched pending", task)
	}
	found := false
	for _, line := range system {
		if strings.Contains(line, "T-001") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no rejection surfaced, system = %v", system)
	}
}

func TestResponderPolicyMentionWins(t *testing.T) {
	reg := testRegistry("arch", "stack", "pixel")
	p := NewResponderPolicy(reg, 1)

	got := p.Select("Mochi, can you look at this?")
	if len(got) == 0 || got[0].ID != "pixel" {
		t.Fatalf("Select = %v, want pixel first", ids(got))
	}
}

func TestResponderPolicyTechKeywords(t *testing.T) {
	reg := testRegistry("arch", "stack", "pixel")
	p := NewResponderPolicy(reg, 1)

	got := p.Select("the api keeps returning a weird bug")
	if len(got) < 2 || got[0].ID != "arch" || got[1].ID != "stack" {
		t.Fatalf("Select = %v, want arch and stack leading", ids(got))
	}
}

func TestResponderPolicyDesignKeywords(t *testing.T) {
	reg := testRegistry("arch", "stack", "pixel")
	p := NewResponderPolicy(reg, 1)

	got := p.Select("can we soften the palette a bit")
	if len(got) == 0 || got[0].ID != "pixel" {
		t.Fatalf("Select = %v, want pixel first", ids(got))
	}
}

func TestResponderPolicyFallbackSubsetSize(t *testing.T) {
	reg := testRegistry("arch", "stack", "pixel")
	p := NewResponderPolicy(reg, 1)

	for i := 0; i < 20; i++ {
		got := p.Select("good morning everyone")
		if len(got) < 2 || len(got) > 3 {
			t.Fatalf("Select returned %d cats, want 2 or 3", len(got))
		}
	}
}

func ids(cats []*cat.Cat) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.ID
	}
	return out
}
