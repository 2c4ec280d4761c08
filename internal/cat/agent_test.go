package cat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/superheromeZzh/meowdev/internal/persistence"
)

type fakeSource struct {
	messages []persistence.Message
	memories []persistence.Memory
	profile  map[string]string
}

func (f *fakeSource) RecentMessages(_ context.Context, _ string, _ int) ([]persistence.Message, error) {
	return f.messages, nil
}

func (f *fakeSource) Memories(_ context.Context, _ string, _ int) ([]persistence.Memory, error) {
	return f.memories, nil
}

func (f *fakeSource) AllProfile(_ context.Context) (map[string]string, error) {
	return f.profile, nil
}

// fakeInvoker returns a scripted result per command binary and records
// every invocation.
type fakeInvoker struct {
	results map[string]struct {
		out string
		err error
	}
	calls []string
}

func (f *fakeInvoker) script(binary, out string, err error) {
	if f.results == nil {
		f.results = make(map[string]struct {
			out string
			err error
		})
	}
	f.results[binary] = struct {
		out string
		err error
	}{out, err}
}

func (f *fakeInvoker) Invoke(_ context.Context, command []string, _, _ string) (string, error) {
	f.calls = append(f.calls, command[0])
	r, ok := f.results[command[0]]
	if !ok {
		return "", fmt.Errorf("unscripted command %q", command[0])
	}
	return r.out, r.err
}

func (f *fakeInvoker) Stream(ctx context.Context, command []string, prompt, workDir string, onChunk func(string)) (string, error) {
	out, err := f.Invoke(ctx, command, prompt, workDir)
	if err == nil && onChunk != nil {
		for _, line := range strings.SplitAfter(out, "\n") {
			if line != "" {
				onChunk(line)
			}
		}
	}
	return out, err
}

func testCat() *Cat {
	return &Cat{
		ID:      "arch",
		Name:    "Whiskers",
		Breed:   "Maine Coon",
		Role:    "architect",
		Soul:    "You are Whiskers, the architect cat.",
		Command: []string{"primary-cli"},
		Fallback: &Fallback{
			Command:    []string{"helper-cli"},
			HelperName: "Mittens",
		},
		Decoder: PlainDecoder{},
	}
}

func newTestAgent(t *testing.T, inv Invoker) *Agent {
	t.Helper()
	return NewAgent(testCat(), &fakeSource{}, AgentOptions{Invoker: inv})
}

func TestSpeakReturnsDecodedReply(t *testing.T) {
	inv := &fakeInvoker{}
	inv.script("primary-cli", "  meow, looks good to me  \n", nil)

	got := newTestAgent(t, inv).Speak(context.Background(), "s1", "")
	if got != "meow, looks good to me" {
		t.Fatalf("Speak = %q", got)
	}
}

func TestSpeakQuotaFallbackSingleAttempt(t *testing.T) {
	inv := &fakeInvoker{}
	inv.script("primary-cli", "", errors.New("primary-cli failed: 429 too many requests"))
	inv.script("helper-cli", "filling in for the big cat\n", nil)

	got := newTestAgent(t, inv).Speak(context.Background(), "s1", "")

	if want := "*(Mittens is lending Whiskers a paw)*\nfilling in for the big cat"; got != want {
		t.Fatalf("Speak = %q, want %q", got, want)
	}
	if len(inv.calls) != 2 || inv.calls[0] != "primary-cli" || inv.calls[1] != "helper-cli" {
		t.Fatalf("calls = %v, want primary then helper exactly once", inv.calls)
	}
}

func TestSpeakQuotaFallbackFailureStops(t *testing.T) {
	inv := &fakeInvoker{}
	inv.script("primary-cli", "", errors.New("usage limit reached"))
	inv.script("helper-cli", "", errors.New("quota exceeded here too"))

	got := newTestAgent(t, inv).Speak(context.Background(), "s1", "")

	if !strings.Contains(got, "out of quota") {
		t.Fatalf("Speak = %q, want out-of-quota notice", got)
	}
	// The helper never gets its own fallback attempt.
	if len(inv.calls) != 2 {
		t.Fatalf("calls = %v, want exactly two invocations", inv.calls)
	}
}

func TestSpeakBinaryNotFoundVoice(t *testing.T) {
	inv := &fakeInvoker{}
	inv.script("primary-cli", "", fmt.Errorf("primary-cli: %w", ErrBinaryNotFound))

	got := newTestAgent(t, inv).Speak(context.Background(), "s1", "")
	if !strings.Contains(got, "primary-cli") || !strings.Contains(got, "isn't installed") {
		t.Fatalf("Speak = %q", got)
	}
}

func TestSpeakTimeoutVoice(t *testing.T) {
	inv := &fakeInvoker{}
	inv.script("primary-cli", "", fmt.Errorf("primary-cli timed out: %w", context.DeadlineExceeded))

	got := newTestAgent(t, inv).Speak(context.Background(), "s1", "")
	if !strings.Contains(got, "timed out") {
		t.Fatalf("Speak = %q", got)
	}
}

func TestSpeakEmptyOutputIsSilent(t *testing.T) {
	inv := &fakeInvoker{}
	inv.script("primary-cli", "", ErrEmptyOutput)

	if got := newTestAgent(t, inv).Speak(context.Background(), "s1", ""); got != "" {
		t.Fatalf("Speak = %q, want empty", got)
	}
}

func TestSpeakStreamFinalMatchesSpeak(t *testing.T) {
	out := "line one\nline two\n"
	inv := &fakeInvoker{}
	inv.script("primary-cli", out, nil)

	a := newTestAgent(t, inv)
	var chunks []string
	streamed := a.SpeakStream(context.Background(), "s1", "", func(c string) {
		chunks = append(chunks, c)
	})

	if direct := a.Speak(context.Background(), "s1", ""); streamed != direct {
		t.Fatalf("streamed %q != direct %q", streamed, direct)
	}
	if joined := strings.TrimSpace(strings.Join(chunks, "")); joined != streamed {
		t.Fatalf("joined chunks %q != final %q", joined, streamed)
	}
}

func TestSpeakToAppendsInstruction(t *testing.T) {
	inv := &fakeInvoker{}
	inv.script("primary-cli", "on it\n", nil)

	var sawPrompt string
	wrapped := invokerFunc(func(ctx context.Context, command []string, prompt, workDir string) (string, error) {
		sawPrompt = prompt
		return inv.Invoke(ctx, command, prompt, workDir)
	})

	a := NewAgent(testCat(), &fakeSource{}, AgentOptions{Invoker: wrapped})
	a.SpeakTo(context.Background(), "s1", "", "Implement the login page", "/tmp/work")

	if !strings.Contains(sawPrompt, "[Your task right now]\nImplement the login page") {
		t.Fatalf("instruction missing from prompt:\n%s", sawPrompt)
	}
}

type invokerFunc func(ctx context.Context, command []string, prompt, workDir string) (string, error)

func (f invokerFunc) Invoke(ctx context.Context, command []string, prompt, workDir string) (string, error) {
	return f(ctx, command, prompt, workDir)
}

func (f invokerFunc) Stream(ctx context.Context, command []string, prompt, workDir string, _ func(string)) (string, error) {
	return f(ctx, command, prompt, workDir)
}

func TestIsQuotaError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Error: Rate limit exceeded", true},
		{"HTTP 429 Too Many Requests", true},
		{"you have hit your usage limit", true},
		{"insufficient credits remaining", true},
		{"syntax error near unexpected token", false},
		{"connection refused", false},
	}
	for _, c := range cases {
		if got := IsQuotaError(c.msg, nil); got != c.want {
			t.Errorf("IsQuotaError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestRegistryMentioned(t *testing.T) {
	reg := NewRegistry([]*Cat{
		{ID: "arch", Name: "Whiskers", Nicknames: []string{"whisk"}},
		{ID: "stack", Name: "Boots"},
		{ID: "pixel", Name: "Mochi", Nicknames: []string{"mo"}},
	})

	got := reg.Mentioned("hey WHISKERS, ask boots about the schema")
	if len(got) != 2 || got[0].ID != "arch" || got[1].ID != "stack" {
		ids := make([]string, len(got))
		for i, c := range got {
			ids[i] = c.ID
		}
		t.Fatalf("Mentioned = %v", ids)
	}

	if got := reg.Mentioned("nothing relevant here"); len(got) != 0 {
		t.Fatalf("Mentioned = %d cats, want none", len(got))
	}
}

func TestBuildPromptSectionOrder(t *testing.T) {
	src := &fakeSource{
		messages: []persistence.Message{
			{Role: "user", Content: "how is the login page going?"},
			{Role: "Whiskers", Content: "sketching the flow now"},
		},
		memories: []persistence.Memory{
			{Text: "the user prefers dark mode", Importance: 3},
			{Text: "repo uses pnpm", Importance: 1},
		},
		profile: map[string]string{"name": "Sam", "editor": "vim"},
	}

	prompt, err := BuildPrompt(context.Background(), src, testCat(), "s1", "⏳ T-001: Fix login → unassigned")
	if err != nil {
		t.Fatal(err)
	}

	sections := []string{
		"You are Whiskers, the architect cat.",
		"[Your memories]",
		"★ the user prefers dark mode",
		"• repo uses pnpm",
		"[User profile]",
		"- editor: vim",
		"- name: Sam",
		"[Recent group chat]",
		"user: how is the login page going?",
		"[Task board]",
		"⏳ T-001: Fix login → unassigned",
		"[skip]",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", s, prompt)
		}
		if idx < last {
			t.Fatalf("section %q out of order", s)
		}
		last = idx
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	prompt, err := BuildPrompt(context.Background(), &fakeSource{}, testCat(), "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, header := range []string{"[Your memories]", "[User profile]", "[Recent group chat]", "[Task board]"} {
		if strings.Contains(prompt, header) {
			t.Fatalf("prompt contains %q for empty state", header)
		}
	}
}

func TestNewRegistryDefaultsDecoder(t *testing.T) {
	reg := NewRegistry([]*Cat{{ID: "arch", Name: "Whiskers"}})
	c, ok := reg.Get("arch")
	if !ok {
		t.Fatal("arch not registered")
	}
	if _, isPlain := c.Decoder.(PlainDecoder); !isPlain {
		t.Fatalf("Decoder = %T, want PlainDecoder", c.Decoder)
	}
}

func TestRegistryAllReturnsCopy(t *testing.T) {
	reg := NewRegistry([]*Cat{
		{ID: "arch", Name: "Whiskers"},
		{ID: "stack", Name: "Boots"},
		{ID: "pixel", Name: "Mochi"},
	})

	got := reg.All()
	got[0], got[1] = got[1], got[0]
	got[2] = nil

	fresh := reg.All()
	if fresh[0].ID != "arch" || fresh[1].ID != "stack" || fresh[2].ID != "pixel" {
		ids := make([]string, len(fresh))
		for i, c := range fresh {
			ids[i] = c.ID
		}
		t.Fatalf("registration order corrupted by caller mutation: %v", ids)
	}
}

func TestRegistryGetCaseInsensitive(t *testing.T) {
	reg := NewRegistry([]*Cat{{ID: "Arch", Name: "Whiskers"}})

	for _, id := range []string{"arch", "ARCH", "Arch"} {
		if _, ok := reg.Get(id); !ok {
			t.Fatalf("Get(%q) missed", id)
		}
	}
}

func TestSetSoulVisibleInNextPrompt(t *testing.T) {
	c := testCat()
	src := &fakeSource{}

	before, err := BuildPrompt(context.Background(), src, c, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(before, "You are Whiskers, the architect cat.") {
		t.Fatalf("initial soul missing from prompt:\n%s", before)
	}

	c.SetSoul("You are Whiskers, reborn as a pirate cat.")

	after, err := BuildPrompt(context.Background(), src, c, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(after, "reborn as a pirate cat") {
		t.Fatalf("updated soul missing from prompt:\n%s", after)
	}
}

func TestSetSoulConcurrentWithPromptBuilds(t *testing.T) {
	c := testCat()
	src := &fakeSource{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			c.SetSoul(fmt.Sprintf("soul revision %d", i))
		}
	}()
	for i := 0; i < 200; i++ {
		if _, err := BuildPrompt(context.Background(), src, c, "s1", ""); err != nil {
			t.Fatalf("BuildPrompt: %v", err)
		}
	}
	<-done
}
